package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrUserNotFound = errors.New("store: admin user not found")

// AdminUser is a web operator account. Only the bcrypt hash is stored.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func (db *DB) CreateAdminUser(username, passwordHash string) error {
	if username == "" || passwordHash == "" {
		return fmt.Errorf("store: admin user needs a name and a password hash")
	}
	_, err := db.Exec(db.Q(`INSERT INTO admin_users (username, password_hash) VALUES (?, ?)`), username, passwordHash)
	return err
}

// GetAdminUser returns ErrUserNotFound for unknown names.
func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	u := AdminUser{}
	var createdAt any
	row := db.QueryRow(db.Q(`SELECT id, username, password_hash, created_at FROM admin_users WHERE username=?`), username)
	switch err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	case err != nil:
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (db *DB) UpdateAdminPassword(username, passwordHash string) error {
	res, err := db.Exec(db.Q(`UPDATE admin_users SET password_hash=? WHERE username=?`), passwordHash, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return nil
}

func (db *DB) AdminUserExists() (bool, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM admin_users)`).Scan(&exists)
	return exists, err
}
