package engine

import (
	"context"
	"errors"
	"fmt"

	"trackline/internal/domain"
	"trackline/internal/engine/timeline"
	"trackline/internal/repo"
)

// Breakdown returns the chronological milestone periods of one initiative.
// An initiative that was never observed has an empty breakdown.
func (e Engine) Breakdown(ctx context.Context, id string) ([]domain.MilestonePeriod, error) {
	snaps, err := e.loadSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return timeline.Breakdown(id, snaps, e.Today())
}

// DurationInMilestone returns the total days id spent in milestone.
func (e Engine) DurationInMilestone(ctx context.Context, id, milestone string) (int, error) {
	snaps, err := e.loadSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	return timeline.DurationInMilestone(id, milestone, snaps, e.Today())
}

// AllDurations computes a breakdown for every live initiative, optionally
// restricted to one type. Snapshots are read and indexed once per call.
func (e Engine) AllDurations(ctx context.Context, typeFilter string) ([]domain.InitiativeDurations, error) {
	live, err := e.Initiatives.ListInitiatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("list initiatives: %w", err)
	}
	snaps, err := e.loadSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	idx := timeline.Index(snaps)
	today := e.Today()
	res := []domain.InitiativeDurations{}
	for _, in := range live {
		if typeFilter != "" && in.Type != typeFilter {
			continue
		}
		periods, err := timeline.Reconstruct(idx[in.ID], today)
		if err != nil {
			return nil, fmt.Errorf("reconstruct %s: %w", in.ID, err)
		}
		res = append(res, domain.InitiativeDurations{
			ID:               in.ID,
			Name:             in.Name,
			Type:             in.Type,
			CurrentMilestone: in.Milestone,
			MilestoneDetails: periods,
		})
	}
	return res, nil
}

// loadSnapshots reads the dates listed at call time; a date that disappears
// before it is read is skipped.
func (e Engine) loadSnapshots(ctx context.Context) ([]domain.Snapshot, error) {
	dates, err := e.Snapshots.SnapshotDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	snaps := make([]domain.Snapshot, 0, len(dates))
	for _, d := range dates {
		snap, err := e.Snapshots.GetSnapshot(ctx, d)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", d, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
