package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackline/internal/domain"
	"trackline/internal/repo"
)

// InitiativeCreateOptions are parameters for creating a live initiative.
type InitiativeCreateOptions struct {
	ID           string
	Name         string
	Type         string
	Status       string
	Milestone    string
	Priority     string
	DepartmentID string
	OwnerID      string
	AssigneeID   string
	StartDate    string
	EndDate      string
	ActorID      string
}

func (e Engine) CreateInitiative(ctx context.Context, opts InitiativeCreateOptions) (domain.Initiative, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Initiative{}, errors.New("name is required")
	}
	if opts.Type == "" {
		opts.Type = domain.TypeProject
	}
	if err := e.validateType(opts.Type); err != nil {
		return domain.Initiative{}, err
	}
	if err := validateOptionalDate("start_date", opts.StartDate); err != nil {
		return domain.Initiative{}, err
	}
	if err := validateOptionalDate("end_date", opts.EndDate); err != nil {
		return domain.Initiative{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := e.Initiatives.GetInitiative(ctx, id); err == nil {
		return domain.Initiative{}, fmt.Errorf("initiative %s: %w", id, repo.ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Initiative{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	in := domain.Initiative{
		ID:           id,
		Name:         opts.Name,
		Type:         opts.Type,
		Status:       opts.Status,
		Milestone:    opts.Milestone,
		Priority:     opts.Priority,
		DepartmentID: opts.DepartmentID,
		OwnerID:      opts.OwnerID,
		AssigneeID:   opts.AssigneeID,
		CreatedAt:    now,
		StartDate:    opts.StartDate,
		EndDate:      opts.EndDate,
		UpdatedAt:    now,
	}
	if err := e.Initiatives.InsertInitiative(ctx, in, opts.ActorID); err != nil {
		return domain.Initiative{}, err
	}
	return in, nil
}

// InitiativeUpdateOptions carries a partial update; nil fields are unchanged.
type InitiativeUpdateOptions struct {
	ID           string
	Name         *string
	Type         *string
	Status       *string
	Milestone    *string
	Priority     *string
	DepartmentID *string
	OwnerID      *string
	AssigneeID   *string
	StartDate    *string
	EndDate      *string
	ActorID      string
}

func (e Engine) UpdateInitiative(ctx context.Context, opts InitiativeUpdateOptions) (domain.Initiative, error) {
	in, err := e.Initiatives.GetInitiative(ctx, opts.ID)
	if err != nil {
		return domain.Initiative{}, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Initiative{}, errors.New("name is required")
		}
		in.Name = *opts.Name
	}
	if opts.Type != nil {
		if err := e.validateType(*opts.Type); err != nil {
			return domain.Initiative{}, err
		}
		in.Type = *opts.Type
	}
	if opts.StartDate != nil {
		if err := validateOptionalDate("start_date", *opts.StartDate); err != nil {
			return domain.Initiative{}, err
		}
		in.StartDate = *opts.StartDate
	}
	if opts.EndDate != nil {
		if err := validateOptionalDate("end_date", *opts.EndDate); err != nil {
			return domain.Initiative{}, err
		}
		in.EndDate = *opts.EndDate
	}
	assign(&in.Status, opts.Status)
	assign(&in.Milestone, opts.Milestone)
	assign(&in.Priority, opts.Priority)
	assign(&in.DepartmentID, opts.DepartmentID)
	assign(&in.OwnerID, opts.OwnerID)
	assign(&in.AssigneeID, opts.AssigneeID)
	in.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Initiatives.UpdateInitiative(ctx, in, opts.ActorID); err != nil {
		return domain.Initiative{}, err
	}
	return in, nil
}

// SyncResult reports a bulk sync and the capture that followed it.
type SyncResult struct {
	Upserted int           `json:"upserted"`
	Capture  CaptureResult `json:"capture"`
}

// SyncInitiatives applies a bulk external sync and then runs a capture, so a
// day whose snapshot has not been taken yet reflects the synced data.
func (e Engine) SyncInitiatives(ctx context.Context, items []domain.Initiative, actorID string) (SyncResult, error) {
	now := e.now().UTC().Format(time.RFC3339)
	for i := range items {
		if items[i].ID == "" {
			return SyncResult{}, fmt.Errorf("initiative %d: id is required", i)
		}
		if items[i].Type == "" {
			items[i].Type = domain.TypeProject
		}
		if err := e.validateType(items[i].Type); err != nil {
			return SyncResult{}, fmt.Errorf("initiative %s: %w", items[i].ID, err)
		}
		if items[i].CreatedAt == "" {
			items[i].CreatedAt = now
		}
		items[i].UpdatedAt = now
	}
	n, err := e.Initiatives.UpsertInitiatives(ctx, items, actorID)
	if err != nil {
		return SyncResult{}, err
	}
	capture, err := e.CaptureToday(ctx)
	if err != nil {
		return SyncResult{Upserted: n}, err
	}
	return SyncResult{Upserted: n, Capture: capture}, nil
}

func (e Engine) validateType(typ string) error {
	if e.Config != nil && !e.Config.AllowsType(typ) {
		return fmt.Errorf("invalid initiative type %q (allowed: %s)", typ, strings.Join(e.Config.Initiatives.Types, ", "))
	}
	return nil
}

func validateOptionalDate(field, v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(domain.DateLayout, v); err != nil {
		return fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", field, v)
	}
	return nil
}

func assign(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
