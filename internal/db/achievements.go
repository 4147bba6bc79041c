package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethshoultes/flock-control/internal/achievement"
	"github.com/sethshoultes/flock-control/internal/model"
)

const achievementColumns = `id, name, description, type, requirement, icon`

// SeedAchievements inserts the achievement catalogue when the table is empty.
func (db *DB) SeedAchievements(ctx context.Context) error {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(1) FROM achievements`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, a := range achievement.Seed {
			_, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO achievements (name, description, type, requirement, icon) VALUES (?, ?, ?, ?, ?)`),
				a.Name, a.Description, string(a.Type), a.Requirement, a.Icon)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAchievements returns every definition ordered by id.
func ListAchievements(ctx context.Context, q sqlx.QueryerContext) ([]model.Achievement, error) {
	defs := []model.Achievement{}
	if err := sqlx.SelectContext(ctx, q, &defs, `SELECT `+achievementColumns+` FROM achievements ORDER BY id`); err != nil {
		return nil, err
	}
	return defs, nil
}

func (db *DB) ListAchievements(ctx context.Context) ([]model.Achievement, error) {
	return ListAchievements(ctx, db.DB)
}

type earnedRow struct {
	model.Achievement
	EarnedAt int64 `db:"earned_at"`
}

// EarnedAchievements returns what the user has earned, oldest grant first.
func EarnedAchievements(ctx context.Context, q sqlx.ExtContext, userID int64) ([]model.UserAchievement, error) {
	var rows []earnedRow
	query := q.Rebind(`SELECT a.id, a.name, a.description, a.type, a.requirement, a.icon, ua.earned_at
		FROM user_achievements ua JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = ? ORDER BY ua.earned_at, a.id`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, userID); err != nil {
		return nil, err
	}
	earned := make([]model.UserAchievement, 0, len(rows))
	for _, r := range rows {
		earned = append(earned, model.UserAchievement{
			Achievement: r.Achievement,
			EarnedAt:    time.UnixMilli(r.EarnedAt).UTC(),
		})
	}
	return earned, nil
}

func (db *DB) EarnedAchievements(ctx context.Context, userID int64) ([]model.UserAchievement, error) {
	return EarnedAchievements(ctx, db.DB, userID)
}

// grantQuery inserts one grant and skips it when the user already holds it.
func grantQuery(dialect string) string {
	if dialect == DialectMySQL {
		return `INSERT IGNORE INTO user_achievements (user_id, achievement_id, earned_at) VALUES (?, ?, ?)`
	}
	return `INSERT INTO user_achievements (user_id, achievement_id, earned_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`
}

// GrantAchievements records the given achievements as earned now. Grants the
// user already holds are skipped, so concurrent callers never fail on the
// primary key; only the achievements actually inserted are returned.
func GrantAchievements(ctx context.Context, q sqlx.ExtContext, dialect string, userID int64, granted []model.Achievement) ([]model.Achievement, error) {
	now := nowMillis()
	query := q.Rebind(grantQuery(dialect))
	inserted := make([]model.Achievement, 0, len(granted))
	for _, a := range granted {
		res, err := q.ExecContext(ctx, query, userID, a.ID, now)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			inserted = append(inserted, a)
		}
	}
	return inserted, nil
}

func (db *DB) GrantAchievements(ctx context.Context, userID int64, granted []model.Achievement) ([]model.Achievement, error) {
	return GrantAchievements(ctx, db.DB, db.Dialect, userID, granted)
}
