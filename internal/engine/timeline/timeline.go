// Package timeline rebuilds milestone occupancy periods from daily snapshots.
//
// Everything here is pure: callers pass the snapshots and the current date, so
// results depend only on their inputs.
package timeline

import (
	"fmt"
	"time"

	"trackline/internal/domain"
)

const msPerDay = 24 * 60 * 60 * 1000

// Observation is one snapshot's view of a single initiative's milestone.
type Observation struct {
	Date      string
	Milestone string
}

// ParseDate reads a YYYY-MM-DD key as UTC midnight.
func ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// DaysBetween returns floor((b - a) / 1 day) for two YYYY-MM-DD dates.
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	return floorDiv(tb.Sub(ta).Milliseconds(), msPerDay), nil
}

func floorDiv(a, b int64) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return int(q)
}

// Observe collects the observations of one initiative, in snapshot order.
// Snapshots that do not contain the initiative are skipped.
func Observe(id string, snapshots []domain.Snapshot) []Observation {
	var obs []Observation
	for _, snap := range snapshots {
		st, ok := snap.Find(id)
		if !ok {
			continue
		}
		obs = append(obs, Observation{Date: snap.Date, Milestone: st.Milestone})
	}
	return obs
}

// Index walks the snapshots once and groups observations by initiative id.
// If a snapshot lists an id twice only the first entry counts.
func Index(snapshots []domain.Snapshot) map[string][]Observation {
	idx := make(map[string][]Observation)
	for _, snap := range snapshots {
		seen := make(map[string]struct{}, len(snap.Initiatives))
		for _, st := range snap.Initiatives {
			if _, dup := seen[st.ID]; dup {
				continue
			}
			seen[st.ID] = struct{}{}
			idx[st.ID] = append(idx[st.ID], Observation{Date: snap.Date, Milestone: st.Milestone})
		}
	}
	return idx
}

// Reconstruct turns ascending observations into chronological milestone periods.
// A change of milestone closes the open period on the date the new value was
// first seen; the last open period stays Current and is measured up to today.
// An empty milestone is a value like any other.
func Reconstruct(obs []Observation, today string) ([]domain.MilestonePeriod, error) {
	periods := []domain.MilestonePeriod{}
	var (
		open    bool
		current string
		start   string
	)
	for _, o := range obs {
		if open && o.Milestone == current {
			continue
		}
		if open {
			end := o.Date
			days, err := span(start, end)
			if err != nil {
				return nil, err
			}
			periods = append(periods, domain.MilestonePeriod{
				Milestone:    current,
				StartDate:    start,
				EndDate:      &end,
				DurationDays: days,
				Status:       domain.PeriodCompleted,
			})
		}
		open, current, start = true, o.Milestone, o.Date
	}
	if open {
		days, err := span(start, today)
		if err != nil {
			return nil, err
		}
		periods = append(periods, domain.MilestonePeriod{
			Milestone:    current,
			StartDate:    start,
			DurationDays: days,
			Status:       domain.PeriodCurrent,
		})
	}
	return periods, nil
}

// span never goes negative, even for out-of-order input.
func span(from, to string) (int, error) {
	days, err := DaysBetween(from, to)
	if err != nil {
		return 0, err
	}
	if days < 0 {
		return 0, nil
	}
	return days, nil
}

// Breakdown reconstructs the periods of one initiative across snapshots.
func Breakdown(id string, snapshots []domain.Snapshot, today string) ([]domain.MilestonePeriod, error) {
	return Reconstruct(Observe(id, snapshots), today)
}

// DurationIn sums the days spent in target across all of its periods.
func DurationIn(periods []domain.MilestonePeriod, target string) int {
	total := 0
	for _, p := range periods {
		if p.Milestone == target {
			total += p.DurationDays
		}
	}
	return total
}

// DurationInMilestone is Breakdown restricted to one milestone.
func DurationInMilestone(id, target string, snapshots []domain.Snapshot, today string) (int, error) {
	periods, err := Breakdown(id, snapshots, today)
	if err != nil {
		return 0, err
	}
	return DurationIn(periods, target), nil
}
