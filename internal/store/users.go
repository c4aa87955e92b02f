package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

var ErrUsernameTaken = errors.New("username already exists")

func (r runner) scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	if err != nil {
		return models.User{}, apperr.Persistence("get user", err)
	}
	return u, nil
}

// GetUserByUsername fetches a user by exact username
func (r runner) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.scanUser(r.queryRow(ctx,
		`SELECT id, username, password_hash, is_admin FROM users WHERE username = ?`, username))
}

// GetUser fetches a user by id
func (r runner) GetUser(ctx context.Context, id int64) (models.User, error) {
	return r.scanUser(r.queryRow(ctx,
		`SELECT id, username, password_hash, is_admin FROM users WHERE id = ?`, id))
}

// CreateUser inserts user and returns its ID
func (t *Tx) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (int64, error) {
	var id int64
	err := t.queryRow(ctx,
		`INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, ?) RETURNING id`,
		username, passwordHash, isAdmin,
	).Scan(&id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, ErrUsernameTaken
		}
		return 0, apperr.Persistence("create user", err)
	}
	return id, nil
}
