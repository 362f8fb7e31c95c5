package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/domain"
	"trackline/internal/engine/timeline"
)

func snap(date string, states ...domain.InitiativeState) domain.Snapshot {
	return domain.Snapshot{Date: date, Initiatives: states}
}

func at(id, milestone string) domain.InitiativeState {
	return domain.InitiativeState{ID: id, Milestone: milestone}
}

func strPtr(s string) *string { return &s }

func TestDaysBetween(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"2025-01-01", "2025-01-01", 0},
		{"2025-01-01", "2025-01-03", 2},
		{"2024-02-28", "2024-03-01", 2},
		{"2024-12-31", "2025-01-01", 1},
		{"2025-03-30", "2025-03-31", 1},
		{"2025-01-05", "2025-01-01", -4},
	}
	for _, tc := range cases {
		got, err := timeline.DaysBetween(tc.a, tc.b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.a, tc.b)
	}
	_, err := timeline.DaysBetween("2025/01/01", "2025-01-02")
	assert.Error(t, err)
}

func TestBreakdownUnchangedMilestone(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2025-01-01", at("x", "Planning")),
		snap("2025-01-02", at("x", "Planning")),
		snap("2025-01-03", at("x", "Planning")),
		snap("2025-01-04", at("x", "Planning")),
		snap("2025-01-05", at("x", "Planning")),
	}
	periods, err := timeline.Breakdown("x", snaps, "2025-01-10")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, domain.MilestonePeriod{
		Milestone:    "Planning",
		StartDate:    "2025-01-01",
		DurationDays: 9,
		Status:       domain.PeriodCurrent,
	}, periods[0])
}

func TestBreakdownWithGaps(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2025-01-01", at("x", "Planning")),
		snap("2025-01-03", at("x", "Development")),
		snap("2025-01-06", at("x", "Development")),
	}
	periods, err := timeline.Breakdown("x", snaps, "2025-01-13")
	require.NoError(t, err)
	assert.Equal(t, []domain.MilestonePeriod{
		{Milestone: "Planning", StartDate: "2025-01-01", EndDate: strPtr("2025-01-03"), DurationDays: 2, Status: domain.PeriodCompleted},
		{Milestone: "Development", StartDate: "2025-01-03", DurationDays: 10, Status: domain.PeriodCurrent},
	}, periods)
}

func TestBreakdownNeverObserved(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2025-01-01", at("x", "Planning")),
		snap("2025-01-02"),
	}
	periods, err := timeline.Breakdown("y", snaps, "2025-01-05")
	require.NoError(t, err)
	assert.Empty(t, periods)
	assert.NotNil(t, periods)

	days, err := timeline.DurationInMilestone("y", "Testing", snaps, "2025-01-05")
	require.NoError(t, err)
	assert.Zero(t, days)

	periods, err = timeline.Breakdown("x", nil, "2025-01-05")
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestReentryCreatesSeparatePeriods(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2025-03-01", at("z", "Testing")),
		snap("2025-03-05", at("z", "Live")),
		snap("2025-03-10", at("z", "Testing")),
		snap("2025-03-12", at("z", "Live")),
	}
	periods, err := timeline.Breakdown("z", snaps, "2025-03-20")
	require.NoError(t, err)
	require.Len(t, periods, 4)
	assert.Equal(t, "Testing", periods[0].Milestone)
	assert.Equal(t, "Testing", periods[2].Milestone)
	assert.Equal(t, 4, periods[0].DurationDays)
	assert.Equal(t, 2, periods[2].DurationDays)

	days, err := timeline.DurationInMilestone("z", "Testing", snaps, "2025-03-20")
	require.NoError(t, err)
	assert.Equal(t, 6, days)

	days, err = timeline.DurationInMilestone("z", "Live", snaps, "2025-03-20")
	require.NoError(t, err)
	assert.Equal(t, 5+8, days)
}

func TestEmptyMilestoneIsDistinct(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2025-01-01", at("x", "")),
		snap("2025-01-04", at("x", "Planning")),
		snap("2025-01-06", at("x", "")),
	}
	periods, err := timeline.Breakdown("x", snaps, "2025-01-06")
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, "", periods[0].Milestone)
	assert.Equal(t, 3, periods[0].DurationDays)
	assert.Equal(t, "Planning", periods[1].Milestone)
	assert.Equal(t, "", periods[2].Milestone)
	assert.Equal(t, 0, periods[2].DurationDays)
	assert.Equal(t, domain.PeriodCurrent, periods[2].Status)
}

func TestAbsentDatesAreNeutral(t *testing.T) {
	full := []domain.Snapshot{
		snap("2025-01-01", at("x", "Planning"), at("y", "Live")),
		snap("2025-01-02", at("y", "Live")),
		snap("2025-01-03", at("x", "Build"), at("y", "Live")),
		snap("2025-01-04", at("y", "Done")),
	}
	trimmed := []domain.Snapshot{full[0], full[2]}
	a, err := timeline.Breakdown("x", full, "2025-01-09")
	require.NoError(t, err)
	b, err := timeline.Breakdown("x", trimmed, "2025-01-09")
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestPeriodsAreContiguous(t *testing.T) {
	milestones := []string{"A", "A", "B", "C", "C", "B", "", "A", "A", "D"}
	var snaps []domain.Snapshot
	for i, m := range milestones {
		date := []string{
			"2025-05-01", "2025-05-02", "2025-05-04", "2025-05-07", "2025-05-08",
			"2025-05-11", "2025-05-15", "2025-05-16", "2025-05-20", "2025-05-30",
		}[i]
		snaps = append(snaps, snap(date, at("w", m)))
	}
	periods, err := timeline.Breakdown("w", snaps, "2025-06-01")
	require.NoError(t, err)
	require.NotEmpty(t, periods)
	for i := 0; i < len(periods)-1; i++ {
		require.NotNil(t, periods[i].EndDate)
		assert.Equal(t, *periods[i].EndDate, periods[i+1].StartDate)
		assert.Equal(t, domain.PeriodCompleted, periods[i].Status)
	}
	last := periods[len(periods)-1]
	assert.Nil(t, last.EndDate)
	assert.Equal(t, domain.PeriodCurrent, last.Status)

	sums := map[string]int{}
	for _, p := range periods {
		assert.GreaterOrEqual(t, p.DurationDays, 0)
		sums[p.Milestone] += p.DurationDays
	}
	for m, want := range sums {
		got, err := timeline.DurationInMilestone("w", m, snaps, "2025-06-01")
		require.NoError(t, err)
		assert.Equal(t, want, got, "milestone %q", m)
	}
}

func TestOutOfOrderClampsToZero(t *testing.T) {
	obs := []timeline.Observation{
		{Date: "2025-01-05", Milestone: "A"},
		{Date: "2025-01-02", Milestone: "B"},
	}
	periods, err := timeline.Reconstruct(obs, "2025-01-01")
	require.NoError(t, err)
	for _, p := range periods {
		assert.GreaterOrEqual(t, p.DurationDays, 0)
	}
}

func TestIndexMatchesObserve(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2025-01-01", at("x", "A"), at("y", "B")),
		snap("2025-01-02", at("y", "C")),
		snap("2025-01-03", at("x", "A"), at("x", "Z")),
	}
	idx := timeline.Index(snaps)
	assert.Equal(t, timeline.Observe("x", snaps), idx["x"])
	assert.Equal(t, timeline.Observe("y", snaps), idx["y"])
	assert.Len(t, idx["x"], 2)
}
