package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/engine/timeline"
	"trackline/internal/repo"
	"trackline/internal/sheets"
)

// EventLister reads the audit log; only the SQLite store keeps one.
type EventLister interface {
	LatestEvents(ctx context.Context, limit int, beforeID int64, entityKind, entityID string) ([]domain.Event, error)
}

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	Events         EventLister
	BasePath       string
	Auth           AuthConfig
	AllowedOrigins []string
	Logger         *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the duration queries and capture triggers.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Trackline API", "0.1.0")
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	hcfg.DocsPath = path.Join(basePath, "docs")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerInitiatives(group, cfg.Engine)
	registerDurations(group, cfg.Engine)
	registerSnapshots(group, cfg.Engine)
	if cfg.Events != nil {
		registerEvents(group, cfg.Events)
	}

	if len(cfg.AllowedOrigins) == 0 {
		return router, nil
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return c.Handler(router), nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce repo.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"date": ce.Date})
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, sheets.ErrNoHeader) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

// statusRecorder captures the HTTP status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Printf("[HTTP] %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type initiativeOutput struct {
	Body domain.Initiative `json:"body"`
}

func registerInitiatives(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-initiatives",
		Method:      http.MethodGet,
		Path:        "/initiatives",
		Summary:     "List live initiatives",
	}, func(ctx context.Context, input *struct {
		Type string `query:"type"`
	}) (*struct {
		Body []domain.Initiative `json:"body"`
	}, error) {
		items, err := e.Initiatives.ListInitiatives(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []domain.Initiative{}
		for _, in := range items {
			if input.Type == "" || in.Type == input.Type {
				res = append(res, in)
			}
		}
		return &struct {
			Body []domain.Initiative `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-initiative",
		Method:        http.MethodPost,
		Path:          "/initiatives",
		Summary:       "Create an initiative",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateInitiativeRequest `json:"body"`
	}) (*initiativeOutput, error) {
		in, err := e.CreateInitiative(ctx, createOptions(input.Body, actorID(ctx)))
		if err != nil {
			return nil, handleError(err)
		}
		return &initiativeOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-initiative",
		Method:      http.MethodGet,
		Path:        "/initiatives/{id}",
		Summary:     "Get an initiative",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*initiativeOutput, error) {
		in, err := e.Initiatives.GetInitiative(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &initiativeOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-initiative",
		Method:      http.MethodPatch,
		Path:        "/initiatives/{id}",
		Summary:     "Update an initiative",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateInitiativeRequest `json:"body"`
	}) (*initiativeOutput, error) {
		in, err := e.UpdateInitiative(ctx, updateOptions(input.ID, input.Body, actorID(ctx)))
		if err != nil {
			return nil, handleError(err)
		}
		return &initiativeOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-initiatives",
		Method:      http.MethodPost,
		Path:        "/initiatives/sync",
		Summary:     "Bulk upsert initiatives, then capture today's snapshot",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SyncInitiativesRequest `json:"body"`
	}) (*struct {
		Body engine.SyncResult `json:"body"`
	}, error) {
		res, err := e.SyncInitiatives(ctx, syncItems(input.Body), actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SyncResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-initiatives",
		Method:      http.MethodPost,
		Path:        "/initiatives/import",
		Summary:     "Bulk upsert initiatives from an .xlsx workbook, then capture today's snapshot",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body engine.SyncResult `json:"body"`
	}, error) {
		items, err := sheets.ImportInitiatives(bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.SyncInitiatives(ctx, items, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SyncResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerDurations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-durations",
		Method:      http.MethodGet,
		Path:        "/durations",
		Summary:     "Milestone breakdown for every initiative",
	}, func(ctx context.Context, input *struct {
		Type string `query:"type"`
	}) (*struct {
		Body []domain.InitiativeDurations `json:"body"`
	}, error) {
		items, err := e.AllDurations(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.InitiativeDurations `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-durations",
		Method:      http.MethodGet,
		Path:        "/durations.xlsx",
		Summary:     "Milestone breakdown report as an .xlsx workbook",
	}, func(ctx context.Context, input *struct {
		Type string `query:"type"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		items, err := e.AllDurations(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := sheets.ExportDurations(&buf, items); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			ContentDisposition: fmt.Sprintf(`attachment; filename="durations-%s.xlsx"`, e.Today()),
			Body:               buf.Bytes(),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "initiative-milestones",
		Method:      http.MethodGet,
		Path:        "/initiatives/{id}/milestones",
		Summary:     "Milestone periods of one initiative",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.MilestonePeriod `json:"body"`
	}, error) {
		periods, err := e.Breakdown(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MilestonePeriod `json:"body"`
		}{Body: periods}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "initiative-duration",
		Method:      http.MethodGet,
		Path:        "/initiatives/{id}/duration",
		Summary:     "Total days one initiative spent in a milestone",
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Milestone string `query:"milestone"`
	}) (*struct {
		Body DurationResponse `json:"body"`
	}, error) {
		days, err := e.DurationInMilestone(ctx, input.ID, input.Milestone)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DurationResponse `json:"body"`
		}{Body: DurationResponse{InitiativeID: input.ID, Milestone: input.Milestone, Days: days}}, nil
	})
}

type captureOutput struct {
	Body engine.CaptureResult `json:"body"`
}

func registerSnapshots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/snapshots",
		Summary:     "List snapshot dates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SnapshotDatesResponse `json:"body"`
	}, error) {
		dates, err := e.Snapshots.SnapshotDates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotDatesResponse `json:"body"`
		}{Body: SnapshotDatesResponse{Dates: dates, Count: len(dates)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/snapshots/{date}",
		Summary:     "Get the snapshot for a date",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2025-01-01"`
	}) (*struct {
		Body domain.Snapshot `json:"body"`
	}, error) {
		if _, err := timeline.ParseDate(input.Date); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"date": input.Date})
		}
		snap, err := e.Snapshots.GetSnapshot(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Snapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "capture-snapshot",
		Method:      http.MethodPost,
		Path:        "/snapshots/capture",
		Summary:     "Capture today's snapshot if it does not exist yet",
	}, func(ctx context.Context, _ *struct{}) (*captureOutput, error) {
		res, err := e.CaptureToday(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &captureOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bootstrap-snapshots",
		Method:      http.MethodPost,
		Path:        "/snapshots/bootstrap",
		Summary:     "Capture a first snapshot when none exist",
	}, func(ctx context.Context, _ *struct{}) (*captureOutput, error) {
		res, err := e.Bootstrap(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &captureOutput{Body: res}, nil
	})
}

func registerEvents(api huma.API, events EventLister) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := events.LatestEvents(ctx, limit+1, cursorID, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
