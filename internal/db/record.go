package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethshoultes/flock-control/internal/achievement"
	"github.com/sethshoultes/flock-control/internal/model"
)

// RecordCount inserts c and grants any achievements the user now qualifies
// for, all in one transaction. It returns the stored count and the newly
// granted achievements.
func (db *DB) RecordCount(ctx context.Context, c model.Count) (model.Count, []model.Achievement, error) {
	var (
		stored  model.Count
		granted []model.Achievement
	)
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		stored, err = InsertCount(ctx, tx, c)
		if err != nil {
			return fmt.Errorf("insert count: %w", err)
		}

		history, err := ListCountsTx(ctx, tx, c.UserID)
		if err != nil {
			return fmt.Errorf("load counts: %w", err)
		}
		defs, err := ListAchievements(ctx, tx)
		if err != nil {
			return fmt.Errorf("load achievements: %w", err)
		}
		earnedList, err := EarnedAchievements(ctx, tx, c.UserID)
		if err != nil {
			return fmt.Errorf("load earned achievements: %w", err)
		}

		earned := make(map[int64]bool, len(earnedList))
		for _, e := range earnedList {
			earned[e.ID] = true
		}
		qualified := achievement.Evaluate(defs, achievement.ComputeStats(statRecords(history)), earned)
		granted, err = GrantAchievements(ctx, tx, db.Dialect, c.UserID, qualified)
		if err != nil {
			return fmt.Errorf("grant achievements: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Count{}, nil, err
	}
	return stored, granted, nil
}

func statRecords(counts []model.Count) []achievement.Record {
	out := make([]achievement.Record, 0, len(counts))
	for _, c := range counts {
		var ts time.Time
		if c.Timestamp != nil {
			ts = *c.Timestamp
		}
		out = append(out, achievement.Record{Count: c.Count, Breed: c.Breed, Timestamp: ts})
	}
	return out
}
