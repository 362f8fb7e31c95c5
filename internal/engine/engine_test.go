package engine_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
	Clock  *clock
	Log    *bytes.Buffer
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Set(date string) {
	t, err := time.ParseInLocation(domain.DateLayout, date, time.Local)
	if err != nil {
		panic(err)
	}
	c.t = t.Add(10 * time.Hour)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	clk := &clock{}
	clk.Set("2025-01-01")
	var buf bytes.Buffer
	eng := engine.New(r, r, config.Default())
	eng.Now = clk.Now
	eng.Logger = log.New(&buf, "", 0)
	return testEnv{Engine: eng, Repo: r, Ctx: context.Background(), Clock: clk, Log: &buf}
}

func (env testEnv) create(t *testing.T, id, typ, milestone string) {
	t.Helper()
	if _, err := env.Engine.CreateInitiative(env.Ctx, engine.InitiativeCreateOptions{
		ID: id, Name: "Initiative " + id, Type: typ, Milestone: milestone, ActorID: "tester",
	}); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func (env testEnv) move(t *testing.T, id, milestone string) {
	t.Helper()
	if _, err := env.Engine.UpdateInitiative(env.Ctx, engine.InitiativeUpdateOptions{ID: id, Milestone: &milestone, ActorID: "tester"}); err != nil {
		t.Fatalf("move %s: %v", id, err)
	}
}

func (env testEnv) captureOn(t *testing.T, date string) engine.CaptureResult {
	t.Helper()
	env.Clock.Set(date)
	res, err := env.Engine.CaptureToday(env.Ctx)
	if err != nil {
		t.Fatalf("capture %s: %v", date, err)
	}
	return res
}

func TestCaptureTodayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "a", domain.TypeProject, "Planning")
	first := env.captureOn(t, "2025-01-02")
	if !first.Created || first.Initiatives != 1 || first.Date != "2025-01-02" {
		t.Fatalf("unexpected first capture %+v", first)
	}
	env.move(t, "a", "Development")
	second := env.captureOn(t, "2025-01-02")
	if second.Created {
		t.Fatalf("second capture should be a no-op: %+v", second)
	}
	dates, err := env.Repo.SnapshotDates(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 1 {
		t.Fatalf("expected one snapshot, got %v", dates)
	}
	snap, err := env.Repo.GetSnapshot(env.Ctx, "2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Initiatives[0].Milestone != "Planning" {
		t.Fatalf("snapshot mutated: %+v", snap)
	}
	if !strings.Contains(env.Log.String(), "already exists") {
		t.Fatalf("expected no-op to be logged, got %q", env.Log.String())
	}
}

func TestCaptureCopiesInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "b", domain.TypeCR, "Testing")
	env.Clock.t = env.Clock.t.Add(time.Minute)
	env.create(t, "a", domain.TypeProject, "")
	env.captureOn(t, "2025-01-03")
	snap, err := env.Repo.GetSnapshot(env.Ctx, "2025-01-03")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Initiatives) != 2 || snap.Initiatives[0].ID != "b" || snap.Initiatives[1].ID != "a" {
		t.Fatalf("unexpected order %+v", snap.Initiatives)
	}
	if snap.Initiatives[0].Type != domain.TypeCR || snap.Initiatives[0].Name != "Initiative b" {
		t.Fatalf("fields not copied: %+v", snap.Initiatives[0])
	}
}

func TestBootstrapDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "a", domain.TypeProject, "Planning")
	env.captureOn(t, "2025-01-05")
	res, err := env.Engine.Bootstrap(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created {
		t.Fatalf("bootstrap should not capture again")
	}
	env.Clock.Set("2025-01-09")
	if res, err = env.Engine.Bootstrap(env.Ctx); err != nil || res.Created {
		t.Fatalf("bootstrap on non-empty store must not capture: %+v %v", res, err)
	}
	dates, _ := env.Repo.SnapshotDates(env.Ctx)
	if len(dates) != 1 {
		t.Fatalf("expected a single snapshot, got %v", dates)
	}
}

func TestBootstrapOnEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Set("2025-02-01")
	res, err := env.Engine.Bootstrap(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || res.Date != "2025-02-01" || res.Initiatives != 0 {
		t.Fatalf("unexpected bootstrap result %+v", res)
	}
}

func TestBreakdownAndDurations(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "x", domain.TypeProject, "Planning")
	env.create(t, "z", domain.TypeCR, "Testing")
	env.captureOn(t, "2025-03-01")
	env.move(t, "x", "Development")
	env.captureOn(t, "2025-03-03")
	env.move(t, "z", "Live")
	env.captureOn(t, "2025-03-05")
	env.move(t, "z", "Testing")
	env.captureOn(t, "2025-03-10")
	env.move(t, "z", "Live")
	env.captureOn(t, "2025-03-12")
	env.Clock.Set("2025-03-15")

	periods, err := env.Engine.Breakdown(env.Ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 2 || periods[0].DurationDays != 2 || periods[1].Status != domain.PeriodCurrent || periods[1].DurationDays != 12 {
		t.Fatalf("unexpected breakdown %+v", periods)
	}
	days, err := env.Engine.DurationInMilestone(env.Ctx, "z", "Testing")
	if err != nil {
		t.Fatal(err)
	}
	if days != 6 {
		t.Fatalf("expected 6 days in Testing, got %d", days)
	}
	zPeriods, err := env.Engine.Breakdown(env.Ctx, "z")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []string{"Testing", "Live", "Planning"} {
		sum := 0
		for _, p := range zPeriods {
			if p.Milestone == m {
				sum += p.DurationDays
			}
		}
		got, err := env.Engine.DurationInMilestone(env.Ctx, "z", m)
		if err != nil || got != sum {
			t.Fatalf("%s: duration %d != breakdown sum %d (%v)", m, got, sum, err)
		}
	}

	all, err := env.Engine.AllDurations(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 initiatives, got %d", len(all))
	}
	crs, err := env.Engine.AllDurations(env.Ctx, domain.TypeCR)
	if err != nil {
		t.Fatal(err)
	}
	if len(crs) != 1 || crs[0].ID != "z" || crs[0].CurrentMilestone != "Live" || len(crs[0].MilestoneDetails) != 4 {
		t.Fatalf("unexpected CR durations %+v", crs)
	}
}

func TestUnobservedInitiative(t *testing.T) {
	env := newTestEnv(t)
	periods, err := env.Engine.Breakdown(env.Ctx, "y")
	if err != nil || len(periods) != 0 {
		t.Fatalf("empty store: %+v %v", periods, err)
	}
	days, err := env.Engine.DurationInMilestone(env.Ctx, "y", "Testing")
	if err != nil || days != 0 {
		t.Fatalf("empty store duration: %d %v", days, err)
	}
	env.create(t, "x", domain.TypeProject, "Planning")
	env.captureOn(t, "2025-01-02")
	env.create(t, "y", domain.TypeProject, "Testing")
	all, err := env.Engine.AllDurations(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range all {
		if d.ID == "y" && (d.MilestoneDetails == nil || len(d.MilestoneDetails) != 0) {
			t.Fatalf("new initiative should have empty details, got %+v", d.MilestoneDetails)
		}
	}
}

func TestCreateInitiativeValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateInitiative(env.Ctx, engine.InitiativeCreateOptions{Name: ""}); err == nil {
		t.Fatalf("expected name error")
	}
	if _, err := env.Engine.CreateInitiative(env.Ctx, engine.InitiativeCreateOptions{Name: "n", Type: "Epic"}); err == nil {
		t.Fatalf("expected type error")
	}
	if _, err := env.Engine.CreateInitiative(env.Ctx, engine.InitiativeCreateOptions{Name: "n", StartDate: "01/02/2025"}); err == nil {
		t.Fatalf("expected date error")
	}
	in, err := env.Engine.CreateInitiative(env.Ctx, engine.InitiativeCreateOptions{Name: "generated"})
	if err != nil {
		t.Fatal(err)
	}
	if in.ID == "" || in.Type != domain.TypeProject {
		t.Fatalf("unexpected defaults %+v", in)
	}
	if _, err := env.Engine.CreateInitiative(env.Ctx, engine.InitiativeCreateOptions{ID: in.ID, Name: "dup"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}
}

func TestSyncInitiativesCaptures(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Set("2025-04-01")
	res, err := env.Engine.SyncInitiatives(env.Ctx, []domain.Initiative{
		{ID: "s1", Name: "Synced", Type: domain.TypeCR, Milestone: "Build"},
	}, "sync")
	if err != nil {
		t.Fatal(err)
	}
	if res.Upserted != 1 || !res.Capture.Created || res.Capture.Initiatives != 1 {
		t.Fatalf("unexpected sync result %+v", res)
	}
	if _, err := env.Engine.SyncInitiatives(env.Ctx, []domain.Initiative{{Name: "no id"}}, "sync"); err == nil {
		t.Fatalf("expected id error")
	}
}

// racingStore reports no snapshot, then loses the write race.
type racingStore struct{ *engine.MemoryStore }

func (racingStore) HasSnapshot(context.Context, string) (bool, error) { return false, nil }
func (racingStore) PutSnapshot(_ context.Context, s domain.Snapshot) error {
	return repo.ConflictError{Date: s.Date}
}

func TestCaptureRaceIsNoop(t *testing.T) {
	mem := engine.NewMemoryStore()
	eng := engine.New(racingStore{mem}, mem, nil)
	eng.Logger = log.New(&bytes.Buffer{}, "", 0)
	res, err := eng.CaptureToday(context.Background())
	if err != nil {
		t.Fatalf("conflict should be swallowed: %v", err)
	}
	if res.Created {
		t.Fatalf("lost race must not report created")
	}
}

type brokenStore struct{ *engine.MemoryStore }

var errUnreachable = errors.New("store unreachable")

func (brokenStore) SnapshotDates(context.Context) ([]string, error) { return nil, errUnreachable }
func (brokenStore) HasSnapshot(context.Context, string) (bool, error) {
	return false, errUnreachable
}

func TestStoreErrorsPropagate(t *testing.T) {
	mem := engine.NewMemoryStore()
	eng := engine.New(brokenStore{mem}, mem, nil)
	ctx := context.Background()
	if _, err := eng.CaptureToday(ctx); !errors.Is(err, errUnreachable) {
		t.Fatalf("capture: %v", err)
	}
	if _, err := eng.Bootstrap(ctx); !errors.Is(err, errUnreachable) {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := eng.Breakdown(ctx, "x"); !errors.Is(err, errUnreachable) {
		t.Fatalf("breakdown: %v", err)
	}
	if _, err := eng.AllDurations(ctx, ""); !errors.Is(err, errUnreachable) {
		t.Fatalf("all durations: %v", err)
	}
}
