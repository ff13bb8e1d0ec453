package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matejg/zaloga/internal/model"
)

// CreateUser creates a new user in the registry database.
func CreateUser(ctx context.Context, db *sql.DB, username, passwordHash, role, deviceID string) (*model.User, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, device_id) VALUES (?, ?, ?, ?)`,
		username, passwordHash, role, nullable(deviceID),
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}
	return GetUser(ctx, db, id)
}

// GetUser returns a user by id.
func GetUser(ctx context.Context, db *sql.DB, id int64) (*model.User, error) {
	user := &model.User{}
	var deviceID sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, device_id, created_at, deleted_at
		 FROM users WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &deviceID, &user.CreatedAt, &user.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	user.DeviceID = deviceID.String
	return user, nil
}

// GetUserByUsername returns an active user by username.
func GetUserByUsername(ctx context.Context, db *sql.DB, username string) (*model.User, error) {
	user := &model.User{}
	var deviceID sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, device_id, created_at, deleted_at
		 FROM users WHERE username = ? AND deleted_at IS NULL`, username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &deviceID, &user.CreatedAt, &user.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	user.DeviceID = deviceID.String
	return user, nil
}

// ListUsers returns all active users.
func ListUsers(ctx context.Context, db *sql.DB) ([]model.User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, username, password_hash, role, device_id, created_at, deleted_at
		 FROM users WHERE deleted_at IS NULL ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var user model.User
		var deviceID sql.NullString
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &deviceID, &user.CreatedAt, &user.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		user.DeviceID = deviceID.String
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUserPassword replaces a user's password hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, id int64, passwordHash string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking password update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser soft-deletes a user so the username can be reused.
func DeleteUser(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking user delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
