package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/MehdiDinari/homebook/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

type UpsertUserInput struct {
	DirectoryUserID int64
	Email           string
	DisplayName     string
	Roles           []string
}

// Upsert keeps the local shadow row in sync with the external directory.
// Roles are only replaced when the directory returned any.
func (r *UserRepository) Upsert(ctx context.Context, input UpsertUserInput) (*models.User, error) {
	query := `
		INSERT INTO users (directory_user_id, email, display_name, roles)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (directory_user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			roles = CASE WHEN cardinality(EXCLUDED.roles) > 0 THEN EXCLUDED.roles ELSE users.roles END,
			updated_at = NOW()
		RETURNING id, directory_user_id, email, display_name, roles, created_at, updated_at
	`

	var user models.User
	err := r.db.QueryRow(ctx, query, input.DirectoryUserID, input.Email, input.DisplayName, input.Roles).Scan(
		&user.ID,
		&user.DirectoryUserID,
		&user.Email,
		&user.DisplayName,
		&user.Roles,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, directory_user_id, email, display_name, roles, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.DirectoryUserID,
		&user.Email,
		&user.DisplayName,
		&user.Roles,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByDirectoryID(ctx context.Context, directoryUserID int64) (*models.User, error) {
	query := `
		SELECT id, directory_user_id, email, display_name, roles, created_at, updated_at
		FROM users
		WHERE directory_user_id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, directoryUserID).Scan(
		&user.ID,
		&user.DirectoryUserID,
		&user.Email,
		&user.DisplayName,
		&user.Roles,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ListByIDs(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	users := make(map[int64]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := `
		SELECT id, directory_user_id, email, display_name, roles, created_at, updated_at
		FROM users
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID,
			&user.DirectoryUserID,
			&user.Email,
			&user.DisplayName,
			&user.Roles,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users[user.ID] = user
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}
