package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trackline/internal/domain"
	"trackline/internal/events"
)

func (r Repo) HasSnapshot(ctx context.Context, date string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM snapshots WHERE date=?`, date).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetSnapshot(ctx context.Context, date string) (domain.Snapshot, error) {
	var (
		snap    domain.Snapshot
		payload string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT date,initiatives_json,created_at FROM snapshots WHERE date=?`, date).
		Scan(&snap.Date, &payload, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(payload), &snap.Initiatives); err != nil {
		return snap, fmt.Errorf("decode snapshot %s: %w", date, err)
	}
	return snap, nil
}

// PutSnapshot inserts a snapshot unless one already exists for its date, in
// which case it returns ConflictError and leaves the stored row untouched.
func (r Repo) PutSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if snap.Initiatives == nil {
		snap.Initiatives = []domain.InitiativeState{}
	}
	payload, err := json.Marshal(snap.Initiatives)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Date, err)
	}
	if snap.CreatedAt == "" {
		snap.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots(date,initiatives_json,created_at) VALUES (?,?,?) ON CONFLICT(date) DO NOTHING`,
		snap.Date, string(payload), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ConflictError{Date: snap.Date}
	}
	if err := r.Events.Append(ctx, tx, events.SnapshotCaptured, "snapshot", snap.Date, "system", events.EventPayload{
		"initiatives": len(snap.Initiatives),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// SnapshotDates lists every snapshot date, oldest first.
func (r Repo) SnapshotDates(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT date FROM snapshots ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	dates := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
