package engine

import (
	"context"
	"log"
	"time"

	"trackline/internal/config"
	"trackline/internal/domain"
)

// SnapshotStore is the append-only, date-keyed snapshot collection.
type SnapshotStore interface {
	HasSnapshot(ctx context.Context, date string) (bool, error)
	// GetSnapshot returns repo.ErrNotFound when no snapshot exists for date.
	GetSnapshot(ctx context.Context, date string) (domain.Snapshot, error)
	// PutSnapshot returns repo.ConflictError if date is already taken.
	PutSnapshot(ctx context.Context, snap domain.Snapshot) error
	// SnapshotDates lists dates in ascending order.
	SnapshotDates(ctx context.Context) ([]string, error)
}

// InitiativeSource is the read side of the live initiative records.
type InitiativeSource interface {
	ListInitiatives(ctx context.Context) ([]domain.Initiative, error)
}

// InitiativeStore is the system of record for initiatives.
type InitiativeStore interface {
	InitiativeSource
	GetInitiative(ctx context.Context, id string) (domain.Initiative, error)
	InsertInitiative(ctx context.Context, in domain.Initiative, actorID string) error
	UpdateInitiative(ctx context.Context, in domain.Initiative, actorID string) error
	UpsertInitiatives(ctx context.Context, items []domain.Initiative, actorID string) (int, error)
}

type Engine struct {
	Snapshots   SnapshotStore
	Initiatives InitiativeStore
	Config      *config.Config
	Logger      *log.Logger
	Now         func() time.Time
}

func New(snapshots SnapshotStore, initiatives InitiativeStore, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Snapshots:   snapshots,
		Initiatives: initiatives,
		Config:      cfg,
		Logger:      log.Default(),
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today is the server-local calendar date used as the snapshot key.
func (e Engine) Today() string {
	return e.now().Format(domain.DateLayout)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
