package app

import (
	"context"
	"fmt"
	"log"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/pgstore"
	"trackline/internal/repo"
)

// EventLister is implemented by stores that keep an audit log.
type EventLister interface {
	LatestEvents(ctx context.Context, limit int, beforeID int64, entityKind, entityID string) ([]domain.Event, error)
}

// Stores bundles the backends selected by config.store.driver.
type Stores struct {
	Driver      string
	Snapshots   engine.SnapshotStore
	Initiatives engine.InitiativeStore
	// Events is nil for drivers without an audit log.
	Events EventLister
	Close  func() error
}

// OpenStores opens, and for SQLite migrates, the configured backend.
func OpenStores(ctx context.Context, workspace string, cfg *config.Config) (Stores, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	switch cfg.Store.Driver {
	case config.DriverSQLite, "":
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return Stores{}, err
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return Stores{}, fmt.Errorf("migrate: %w", err)
		}
		r := repo.Repo{DB: conn}
		return Stores{Driver: config.DriverSQLite, Snapshots: r, Initiatives: r, Events: r, Close: conn.Close}, nil
	case config.DriverPostgres:
		pg, err := pgstore.Open(ctx, pgstore.Config{DSN: cfg.Store.Postgres.DSN, MaxConns: cfg.Store.Postgres.MaxConns})
		if err != nil {
			return Stores{}, err
		}
		return Stores{Driver: config.DriverPostgres, Snapshots: pg, Initiatives: pg, Close: func() error {
			pg.Close()
			return nil
		}}, nil
	case config.DriverMemory:
		m := engine.NewMemoryStore()
		return Stores{Driver: config.DriverMemory, Snapshots: m, Initiatives: m, Close: func() error { return nil }}, nil
	default:
		return Stores{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenEngine opens the configured stores and builds an engine over them.
// Callers must invoke Stores.Close when done.
func OpenEngine(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (engine.Engine, Stores, error) {
	stores, err := OpenStores(ctx, workspace, cfg)
	if err != nil {
		return engine.Engine{}, Stores{}, err
	}
	e := engine.New(stores.Snapshots, stores.Initiatives, cfg)
	if logger != nil {
		e.Logger = logger
	}
	return e, stores, nil
}
