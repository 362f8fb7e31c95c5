// Package pgstore keeps initiatives and snapshots in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trackline/internal/domain"
	"trackline/internal/repo"
)

// Config holds database configuration.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store wraps a pgx connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects, pings and makes sure the tables exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS initiatives(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  milestone TEXT NOT NULL DEFAULT '',
  priority TEXT NOT NULL DEFAULT '',
  department_id TEXT NOT NULL DEFAULT '',
  owner_id TEXT NOT NULL DEFAULT '',
  assignee_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  start_date TEXT NOT NULL DEFAULT '',
  end_date TEXT NOT NULL DEFAULT '',
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots(
  date TEXT PRIMARY KEY,
  initiatives JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const initiativeColumns = `id,name,type,status,milestone,priority,department_id,owner_id,assignee_id,created_at,start_date,end_date,updated_at`

func scanInitiative(row pgx.Row) (domain.Initiative, error) {
	var in domain.Initiative
	err := row.Scan(&in.ID, &in.Name, &in.Type, &in.Status, &in.Milestone, &in.Priority, &in.DepartmentID,
		&in.OwnerID, &in.AssigneeID, &in.CreatedAt, &in.StartDate, &in.EndDate, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return in, repo.ErrNotFound
	}
	return in, err
}

func (s *Store) HasSnapshot(ctx context.Context, date string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM snapshots WHERE date=$1)`, date).Scan(&exists)
	return exists, err
}

func (s *Store) GetSnapshot(ctx context.Context, date string) (domain.Snapshot, error) {
	var (
		snap      domain.Snapshot
		payload   []byte
		createdAt time.Time
	)
	err := s.Pool.QueryRow(ctx, `SELECT date, initiatives, created_at FROM snapshots WHERE date=$1`, date).
		Scan(&snap.Date, &payload, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, repo.ErrNotFound
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(payload, &snap.Initiatives); err != nil {
		return snap, fmt.Errorf("decode snapshot %s: %w", date, err)
	}
	snap.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return snap, nil
}

// PutSnapshot relies on the primary key so concurrent writers cannot both win.
func (s *Store) PutSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if snap.Initiatives == nil {
		snap.Initiatives = []domain.InitiativeState{}
	}
	payload, err := json.Marshal(snap.Initiatives)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Date, err)
	}
	tag, err := s.Pool.Exec(ctx, `INSERT INTO snapshots(date, initiatives) VALUES ($1, $2) ON CONFLICT (date) DO NOTHING`, snap.Date, payload)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ConflictError{Date: snap.Date}
	}
	return nil
}

func (s *Store) SnapshotDates(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT date FROM snapshots ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if dates == nil {
		dates = []string{}
	}
	return dates, nil
}

func (s *Store) ListInitiatives(ctx context.Context) ([]domain.Initiative, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+initiativeColumns+` FROM initiatives ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Initiative{}
	for rows.Next() {
		in, err := scanInitiative(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (s *Store) GetInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	return scanInitiative(s.Pool.QueryRow(ctx, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=$1`, id))
}

func (s *Store) InsertInitiative(ctx context.Context, in domain.Initiative, _ string) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO initiatives(`+initiativeColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		initiativeArgs(in)...)
	if err != nil {
		return fmt.Errorf("insert initiative: %w", err)
	}
	return nil
}

func (s *Store) UpdateInitiative(ctx context.Context, in domain.Initiative, _ string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE initiatives SET name=$2, type=$3, status=$4, milestone=$5, priority=$6, department_id=$7,
owner_id=$8, assignee_id=$9, start_date=$10, end_date=$11, updated_at=$12 WHERE id=$1`,
		in.ID, in.Name, in.Type, in.Status, in.Milestone, in.Priority, in.DepartmentID,
		in.OwnerID, in.AssigneeID, in.StartDate, in.EndDate, in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update initiative: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// UpsertInitiatives applies a bulk sync in one transaction.
func (s *Store) UpsertInitiatives(ctx context.Context, items []domain.Initiative, _ string) (int, error) {
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, in := range items {
			batch.Queue(`INSERT INTO initiatives(`+initiativeColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type, status=EXCLUDED.status, milestone=EXCLUDED.milestone,
priority=EXCLUDED.priority, department_id=EXCLUDED.department_id, owner_id=EXCLUDED.owner_id, assignee_id=EXCLUDED.assignee_id,
start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date, updated_at=EXCLUDED.updated_at`, initiativeArgs(in)...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("upsert initiatives: %w", err)
	}
	return len(items), nil
}

func initiativeArgs(in domain.Initiative) []any {
	return []any{in.ID, in.Name, in.Type, in.Status, in.Milestone, in.Priority, in.DepartmentID,
		in.OwnerID, in.AssigneeID, in.CreatedAt, in.StartDate, in.EndDate, in.UpdatedAt}
}
