package models

import "testing"

func TestResolveRoles(t *testing.T) {
	aliases := NewRoleAliases("tutor", "")

	set := ResolveRoles([]string{"Prof", " student "}, aliases)
	if !set.Teacher || !set.Student || set.Admin {
		t.Fatalf("unexpected set %+v", set)
	}

	set = ResolveRoles([]string{"administrator"}, aliases)
	if !set.Admin || !set.Teacher {
		t.Fatalf("administrator should imply teacher, got %+v", set)
	}

	set = ResolveRoles([]string{"tutor"}, aliases)
	if !set.Teacher {
		t.Fatalf("extra alias not honored: %+v", set)
	}

	set = ResolveRoles([]string{"", "unknown"}, aliases)
	if set.Admin || set.Teacher || set.Student {
		t.Fatalf("unknown roles resolved: %+v", set)
	}
}

func TestRoleTagPrecedence(t *testing.T) {
	if got := RoleTag([]string{"administrator", "prof", "student"}); got != "admin" {
		t.Fatalf("expected admin tag, got %q", got)
	}
	if got := RoleTag([]string{"prof", "student"}); got != "prof" {
		t.Fatalf("expected prof tag, got %q", got)
	}
	if got := RoleTag([]string{"student"}); got != "student" {
		t.Fatalf("expected student tag, got %q", got)
	}
	if got := RoleTag(nil); got != "" {
		t.Fatalf("expected empty tag, got %q", got)
	}
}
