package tracklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Trackline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Initiative represents the API initiative model (partial).
type Initiative struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Milestone string `json:"milestone"`
}

// MilestonePeriod is one contiguous span spent in a milestone. EndDate is
// nil for the current period.
type MilestonePeriod struct {
	Milestone    string  `json:"milestone"`
	StartDate    string  `json:"start_date"`
	EndDate      *string `json:"end_date"`
	DurationDays int     `json:"duration_days"`
	Status       string  `json:"status"`
}

// InitiativeDurations is one row of the portfolio report.
type InitiativeDurations struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	CurrentMilestone string            `json:"current_milestone"`
	MilestoneDetails []MilestonePeriod `json:"milestone_details"`
}

// CaptureResult reports whether a capture wrote a snapshot.
type CaptureResult struct {
	Date        string `json:"date"`
	Created     bool   `json:"created"`
	Initiatives int    `json:"initiatives"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateInitiative creates a live initiative.
func (c *Client) CreateInitiative(ctx context.Context, id, name, initiativeType, milestone string) (Initiative, error) {
	body := map[string]any{
		"name":      name,
		"type":      initiativeType,
		"milestone": milestone,
	}
	if id != "" {
		body["id"] = id
	}
	var resp Initiative
	err := c.do(ctx, http.MethodPost, "initiatives", body, &resp)
	return resp, err
}

// SetMilestone moves an initiative to another milestone.
func (c *Client) SetMilestone(ctx context.Context, id, milestone string) (Initiative, error) {
	var resp Initiative
	endpoint := fmt.Sprintf("initiatives/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"milestone": milestone}, &resp)
	return resp, err
}

// Durations returns the milestone breakdown of every initiative, optionally
// restricted to one type.
func (c *Client) Durations(ctx context.Context, initiativeType string) ([]InitiativeDurations, error) {
	endpoint := "durations"
	if initiativeType != "" {
		endpoint += "?type=" + url.QueryEscape(initiativeType)
	}
	var resp []InitiativeDurations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Breakdown returns the milestone periods of one initiative.
func (c *Client) Breakdown(ctx context.Context, id string) ([]MilestonePeriod, error) {
	var resp []MilestonePeriod
	endpoint := fmt.Sprintf("initiatives/%s/milestones", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Duration returns the total days an initiative spent in milestone.
func (c *Client) Duration(ctx context.Context, id, milestone string) (int, error) {
	var resp struct {
		Days int `json:"days"`
	}
	endpoint := fmt.Sprintf("initiatives/%s/duration?milestone=%s", url.PathEscape(id), url.QueryEscape(milestone))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Days, err
}

// Capture asks the server to capture today's snapshot.
func (c *Client) Capture(ctx context.Context) (CaptureResult, error) {
	var resp CaptureResult
	err := c.do(ctx, http.MethodPost, "snapshots/capture", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
