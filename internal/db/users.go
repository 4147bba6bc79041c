package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/sethshoultes/flock-control/internal/model"
)

const userColumns = `id, email, password_hash, created_at`

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) UserExists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(`SELECT COUNT(1) FROM users WHERE id = ?`), id); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateUser inserts a user together with its settings row.
func (db *DB) CreateUser(ctx context.Context, email, passwordHash string) (*model.User, error) {
	user := &model.User{Email: email, PasswordHash: passwordHash, CreatedAt: nowMillis()}
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		id, err := insertID(ctx, tx, `INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)`,
			user.Email, user.PasswordHash, user.CreatedAt)
		if err != nil {
			return err
		}
		user.ID = id
		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO user_settings (user_id, notify_achievements, created_at) VALUES (?, ?, ?)`),
			id, true, user.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdatePasswordHash replaces the stored hash, used when hashing settings
// change.
func (db *DB) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	res, err := db.ExecContext(ctx, db.Rebind(`UPDATE users SET password_hash = ? WHERE id = ?`), hash, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSettings returns the user's settings. Users created before settings
// existed get defaults.
func (db *DB) GetSettings(ctx context.Context, userID int64) (*model.UserSettings, error) {
	var settings model.UserSettings
	err := db.GetContext(ctx, &settings,
		db.Rebind(`SELECT user_id, notify_achievements, created_at FROM user_settings WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.UserSettings{UserID: userID, NotifyAchievements: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
