package tracklinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRequests(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/durations":
			json.NewEncoder(w).Encode([]InitiativeDurations{{ID: "x", CurrentMilestone: "Planning"}})
		case "/v0/initiatives/a b/duration":
			json.NewEncoder(w).Encode(map[string]any{"initiative_id": "a b", "milestone": "In Review", "days": 4})
		case "/v0/snapshots/capture":
			json.NewEncoder(w).Encode(CaptureResult{Date: "2025-01-01", Created: true})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	ctx := context.Background()

	rows, err := c.Durations(ctx, "CR")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Planning", rows[0].CurrentMilestone)

	days, err := c.Duration(ctx, "a b", "In Review")
	require.NoError(t, err)
	assert.Equal(t, 4, days)

	res, err := c.Capture(ctx)
	require.NoError(t, err)
	assert.True(t, res.Created)

	_, err = c.Breakdown(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	assert.Equal(t, []string{
		"GET /v0/durations?type=CR",
		"GET /v0/initiatives/a%20b/duration?milestone=In+Review",
		"POST /v0/snapshots/capture",
		"GET /v0/initiatives/missing/milestones",
	}, seen)
}
