package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/model"
)

type countRow struct {
	ID         int64           `db:"id"`
	UserID     int64           `db:"user_id"`
	Quantity   int             `db:"quantity"`
	ImageURL   sql.NullString  `db:"image_url"`
	Breed      sql.NullString  `db:"breed"`
	Confidence sql.NullFloat64 `db:"confidence"`
	Labels     string          `db:"labels"`
	CreatedAt  int64           `db:"created_at"`
}

func (r countRow) toModel() model.Count {
	ts := time.UnixMilli(r.CreatedAt).UTC()
	c := model.Count{
		ID:        model.RemoteID(r.ID),
		UserID:    r.UserID,
		Count:     r.Quantity,
		Timestamp: &ts,
		Labels:    []string{},
	}
	if r.ImageURL.Valid {
		c.ImageURL = &r.ImageURL.String
	}
	if r.Breed.Valid {
		c.Breed = &r.Breed.String
	}
	if r.Confidence.Valid {
		c.Confidence = &r.Confidence.Float64
	}
	if r.Labels != "" {
		// Rows with unreadable labels are still returned, just unlabeled.
		if err := json.Unmarshal([]byte(r.Labels), &c.Labels); err != nil {
			logging.Warn().Err(err).Int64("count_id", r.ID).Msg("db: unreadable count labels")
			c.Labels = []string{}
		}
	}
	return c
}

const countColumns = `id, user_id, quantity, image_url, breed, confidence, labels, created_at`

// ListCounts returns the user's counts oldest first.
func (db *DB) ListCounts(ctx context.Context, userID int64) ([]model.Count, error) {
	return listCounts(ctx, db.DB, userID)
}

func listCounts(ctx context.Context, q sqlx.ExtContext, userID int64) ([]model.Count, error) {
	var rows []countRow
	query := q.Rebind(`SELECT ` + countColumns + ` FROM counts WHERE user_id = ? ORDER BY created_at ASC, id ASC`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, userID); err != nil {
		return nil, err
	}
	counts := make([]model.Count, 0, len(rows))
	for _, r := range rows {
		counts = append(counts, r.toModel())
	}
	return counts, nil
}

// ListCountsTx is ListCounts inside a transaction.
func ListCountsTx(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.Count, error) {
	return listCounts(ctx, tx, userID)
}

// InsertCount stores c for its user and returns it with the assigned id.
// A missing timestamp is set to now.
func InsertCount(ctx context.Context, q sqlx.ExtContext, c model.Count) (model.Count, error) {
	if c.Timestamp == nil {
		now := time.Now().UTC()
		c.Timestamp = &now
	}
	if c.Labels == nil {
		c.Labels = []string{}
	}
	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return c, fmt.Errorf("encode labels: %w", err)
	}

	id, err := insertID(ctx, q,
		`INSERT INTO counts (user_id, quantity, image_url, breed, confidence, labels, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Count, c.ImageURL, c.Breed, c.Confidence, string(labels), c.Timestamp.UnixMilli())
	if err != nil {
		return c, err
	}
	c.ID = model.RemoteID(id)
	return c, nil
}

func (db *DB) InsertCount(ctx context.Context, c model.Count) (model.Count, error) {
	return InsertCount(ctx, db.DB, c)
}

// DeleteCounts removes the listed counts owned by userID. Ids belonging to
// other users are ignored. It returns how many rows were deleted.
func (db *DB) DeleteCounts(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM counts WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
