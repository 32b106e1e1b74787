package models

import (
	"strings"
	"time"
)

// User is the local shadow of a directory account. Role strings are
// normalized to lower case when the row is upserted at the identity
// boundary; downstream code only ever looks at RoleSet.
type User struct {
	ID              int64     `json:"id"`
	DirectoryUserID int64     `json:"directory_user_id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"display_name"`
	Roles           []string  `json:"roles"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RoleSet is the normalized view of a user's directory roles.
type RoleSet struct {
	Admin   bool
	Teacher bool
	Student bool
}

// RoleAliases configures which directory role strings map to each role.
type RoleAliases struct {
	Teacher map[string]struct{}
	Student map[string]struct{}
}

func NewRoleAliases(extraTeacher, extraStudent string) RoleAliases {
	teacher := map[string]struct{}{
		"teacher":       {},
		"instructor":    {},
		"prof":          {},
		"administrator": {},
	}
	student := map[string]struct{}{
		"student": {},
	}
	if alias := strings.ToLower(strings.TrimSpace(extraTeacher)); alias != "" {
		teacher[alias] = struct{}{}
	}
	if alias := strings.ToLower(strings.TrimSpace(extraStudent)); alias != "" {
		student[alias] = struct{}{}
	}
	return RoleAliases{Teacher: teacher, Student: student}
}

// ResolveRoles computes the RoleSet once from raw role strings.
func ResolveRoles(roles []string, aliases RoleAliases) RoleSet {
	var set RoleSet
	for _, raw := range roles {
		role := strings.ToLower(strings.TrimSpace(raw))
		if role == "" {
			continue
		}
		if role == "administrator" {
			set.Admin = true
		}
		if _, ok := aliases.Teacher[role]; ok {
			set.Teacher = true
		}
		if _, ok := aliases.Student[role]; ok {
			set.Student = true
		}
	}
	return set
}

// RoleTag returns the display tag used in realtime event payloads.
func RoleTag(roles []string) string {
	set := ResolveRoles(roles, NewRoleAliases("", ""))
	switch {
	case set.Admin:
		return "admin"
	case set.Teacher:
		return "prof"
	case set.Student:
		return "student"
	default:
		return ""
	}
}
