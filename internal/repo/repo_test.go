package repo_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/migrate"
	"trackline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func initiative(id, milestone string) domain.Initiative {
	return domain.Initiative{
		ID: id, Name: "Initiative " + id, Type: domain.TypeProject, Status: "Active", Milestone: milestone,
		CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
	}
}

func TestInitiativeLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	in := initiative("i-1", "Planning")
	in.OwnerID = "owner-1"
	if err := r.InsertInitiative(ctx, in, "tester"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetInitiative(ctx, "i-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, in)
	}
	in.Milestone = "Development"
	if err := r.UpdateInitiative(ctx, in, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}
	evts, err := r.LatestEvents(ctx, 10, 0, "initiative", "i-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].Type != "initiative.milestone_changed" {
		t.Fatalf("unexpected events %+v", evts)
	}
	if err := r.UpdateInitiative(ctx, initiative("missing", "x"), "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.GetInitiative(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertInitiatives(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertInitiative(ctx, initiative("a", "Planning"), "tester"); err != nil {
		t.Fatal(err)
	}
	n, err := r.UpsertInitiatives(ctx, []domain.Initiative{initiative("a", "Build"), initiative("b", "Planning")}, "sync")
	if err != nil || n != 2 {
		t.Fatalf("upsert: %d %v", n, err)
	}
	items, err := r.ListInitiatives(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Milestone != "Build" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestSnapshotPutIsInsertOnly(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	ok, err := r.HasSnapshot(ctx, "2025-01-02")
	if err != nil || ok {
		t.Fatalf("has on empty store: %v %v", ok, err)
	}
	first := domain.Snapshot{Date: "2025-01-02", Initiatives: []domain.InitiativeState{{ID: "a", Milestone: "Planning"}}}
	if err := r.PutSnapshot(ctx, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := domain.Snapshot{Date: "2025-01-02", Initiatives: []domain.InitiativeState{{ID: "a", Milestone: "Live"}}}
	err = r.PutSnapshot(ctx, second)
	var ce repo.ConflictError
	if !errors.As(err, &ce) || ce.Date != "2025-01-02" || !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := r.GetSnapshot(ctx, "2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if got.Initiatives[0].Milestone != "Planning" {
		t.Fatalf("snapshot was overwritten: %+v", got)
	}
	if _, err := r.GetSnapshot(ctx, "2025-01-03"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSnapshotDatesSorted(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, d := range []string{"2025-02-01", "2024-12-31", "2025-01-15"} {
		if err := r.PutSnapshot(ctx, domain.Snapshot{Date: d}); err != nil {
			t.Fatalf("put %s: %v", d, err)
		}
	}
	dates, err := r.SnapshotDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-12-31", "2025-01-15", "2025-02-01"}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("dates = %v", dates)
		}
	}
	snap, err := r.GetSnapshot(ctx, "2025-01-15")
	if err != nil || snap.Initiatives == nil || len(snap.Initiatives) != 0 {
		t.Fatalf("empty snapshot should decode as empty list: %+v %v", snap, err)
	}
}

func TestConcurrentPutSingleWinner(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.PutSnapshot(ctx, domain.Snapshot{Date: "2025-06-01"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, repo.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != 7 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
}
