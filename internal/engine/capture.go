package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trackline/internal/domain"
	"trackline/internal/repo"
)

// CaptureResult describes what a capture run did.
type CaptureResult struct {
	Date        string `json:"date"`
	Created     bool   `json:"created"`
	Initiatives int    `json:"initiatives"`
}

// CaptureToday writes today's snapshot from the live initiatives. It is a
// no-op when the snapshot already exists, including when another caller
// wins a concurrent write for the same date.
func (e Engine) CaptureToday(ctx context.Context) (CaptureResult, error) {
	today := e.Today()
	res := CaptureResult{Date: today}
	exists, err := e.Snapshots.HasSnapshot(ctx, today)
	if err != nil {
		return res, fmt.Errorf("check snapshot %s: %w", today, err)
	}
	if exists {
		e.logf("snapshot %s already exists; skipping capture", today)
		return res, nil
	}
	live, err := e.Initiatives.ListInitiatives(ctx)
	if err != nil {
		return res, fmt.Errorf("list initiatives: %w", err)
	}
	snap := domain.Snapshot{
		Date:        today,
		Initiatives: make([]domain.InitiativeState, 0, len(live)),
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	for _, in := range live {
		snap.Initiatives = append(snap.Initiatives, domain.StateFromInitiative(in))
	}
	if err := e.Snapshots.PutSnapshot(ctx, snap); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.logf("snapshot %s written concurrently; skipping capture", today)
			return res, nil
		}
		return res, fmt.Errorf("store snapshot %s: %w", today, err)
	}
	e.logf("captured snapshot %s with %d initiatives", today, len(snap.Initiatives))
	res.Created = true
	res.Initiatives = len(snap.Initiatives)
	return res, nil
}

// Bootstrap captures a first snapshot when the store is empty. It does not
// backfill earlier dates.
func (e Engine) Bootstrap(ctx context.Context) (CaptureResult, error) {
	dates, err := e.Snapshots.SnapshotDates(ctx)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("list snapshot dates: %w", err)
	}
	if len(dates) > 0 {
		return CaptureResult{Date: dates[len(dates)-1]}, nil
	}
	return e.CaptureToday(ctx)
}
