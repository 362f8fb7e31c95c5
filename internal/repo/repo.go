package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trackline/internal/domain"
	"trackline/internal/events"
)

// Repo is the SQLite-backed system of record and snapshot store.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ConflictError reports a snapshot write for a date that already has one.
type ConflictError struct {
	Date string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("snapshot for %s already exists", e.Date)
}

func (e ConflictError) Is(target error) bool { return target == ErrConflict }

const initiativeColumns = `id,name,type,status,milestone,COALESCE(priority,''),COALESCE(department_id,''),COALESCE(owner_id,''),COALESCE(assignee_id,''),created_at,COALESCE(start_date,''),COALESCE(end_date,''),updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInitiative(row rowScanner) (domain.Initiative, error) {
	var in domain.Initiative
	err := row.Scan(&in.ID, &in.Name, &in.Type, &in.Status, &in.Milestone, &in.Priority, &in.DepartmentID,
		&in.OwnerID, &in.AssigneeID, &in.CreatedAt, &in.StartDate, &in.EndDate, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return in, ErrNotFound
	}
	return in, err
}

func (r Repo) InsertInitiative(ctx context.Context, in domain.Initiative, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO initiatives(id,name,type,status,milestone,priority,department_id,owner_id,assignee_id,created_at,start_date,end_date,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.Name, in.Type, in.Status, in.Milestone, nullable(in.Priority), nullable(in.DepartmentID), nullable(in.OwnerID),
		nullable(in.AssigneeID), in.CreatedAt, nullable(in.StartDate), nullable(in.EndDate), in.UpdatedAt); err != nil {
		return fmt.Errorf("insert initiative: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.InitiativeCreated, "initiative", in.ID, actorID, events.EventPayload{
		"type": in.Type, "milestone": in.Milestone,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	return scanInitiative(r.DB.QueryRowContext(ctx, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=?`, id))
}

// ListInitiatives returns the live initiatives in a stable order.
func (r Repo) ListInitiatives(ctx context.Context) ([]domain.Initiative, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+initiativeColumns+` FROM initiatives ORDER BY created_at, id`)
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

// UpdateInitiative overwrites the live record and logs milestone transitions.
func (r Repo) UpdateInitiative(ctx context.Context, in domain.Initiative, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var previous string
	err = tx.QueryRowContext(ctx, `SELECT milestone FROM initiatives WHERE id=?`, in.ID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE initiatives SET name=?, type=?, status=?, milestone=?, priority=?, department_id=?, owner_id=?, assignee_id=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		in.Name, in.Type, in.Status, in.Milestone, nullable(in.Priority), nullable(in.DepartmentID), nullable(in.OwnerID),
		nullable(in.AssigneeID), nullable(in.StartDate), nullable(in.EndDate), in.UpdatedAt, in.ID); err != nil {
		return fmt.Errorf("update initiative: %w", err)
	}
	if previous != in.Milestone {
		if err := r.Events.Append(ctx, tx, events.InitiativeMilestoneChange, "initiative", in.ID, actorID, events.EventPayload{
			"from": previous, "to": in.Milestone,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertInitiatives applies a bulk sync in one transaction.
func (r Repo) UpsertInitiatives(ctx context.Context, items []domain.Initiative, actorID string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, in := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO initiatives(id,name,type,status,milestone,priority,department_id,owner_id,assignee_id,created_at,start_date,end_date,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, status=excluded.status, milestone=excluded.milestone,
priority=excluded.priority, department_id=excluded.department_id, owner_id=excluded.owner_id, assignee_id=excluded.assignee_id,
start_date=excluded.start_date, end_date=excluded.end_date, updated_at=excluded.updated_at`,
			in.ID, in.Name, in.Type, in.Status, in.Milestone, nullable(in.Priority), nullable(in.DepartmentID), nullable(in.OwnerID),
			nullable(in.AssigneeID), in.CreatedAt, nullable(in.StartDate), nullable(in.EndDate), in.UpdatedAt); err != nil {
			return 0, fmt.Errorf("upsert initiative %s: %w", in.ID, err)
		}
	}
	if err := r.Events.Append(ctx, tx, events.InitiativesImported, "initiative", "", actorID, events.EventPayload{"count": len(items)}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, beforeID int64, entityKind, entityID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	if entityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
