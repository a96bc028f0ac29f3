package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
)

// UserRepository implements port.UserDirectory over the users table
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user directory
func NewUserRepository(db *sql.DB, logger *zap.Logger) port.UserDirectory {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*entity.User, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, role, lark_open_id FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// UsersWithRole returns every user holding the role, ordered by ID
func (r *UserRepository) UsersWithRole(ctx context.Context, role string) ([]*entity.User, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx,
		`SELECT id, name, role, lark_open_id FROM users WHERE role = ? ORDER BY id`, role)
	if err != nil {
		r.logger.Error("Failed to list users by role", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert inserts the user, or updates it when u.ID already exists
func (r *UserRepository) Upsert(ctx context.Context, u *entity.User) error {
	var openID *string
	if u.LarkOpenID != "" {
		openID = &u.LarkOpenID
	}

	exec := sqlite.ExecutorFor(ctx, r.db)
	if u.ID == 0 {
		result, err := exec.ExecContext(ctx,
			`INSERT INTO users (name, role, lark_open_id) VALUES (?, ?, ?)`,
			u.Name, u.Role, nullString(openID))
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if u.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		return nil
	}

	_, err := exec.ExecContext(ctx, `
		INSERT INTO users (id, name, role, lark_open_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role, lark_open_id = excluded.lark_open_id`,
		u.ID, u.Name, u.Role, nullString(openID))
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.Int64("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func scanUser(row scanner) (*entity.User, error) {
	var u entity.User
	var openID sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &u.Role, &openID); err != nil {
		return nil, err
	}
	u.LarkOpenID = openID.String
	return &u, nil
}

var _ port.UserDirectory = (*UserRepository)(nil)
