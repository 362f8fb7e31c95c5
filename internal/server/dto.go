package server

import (
	"trackline/internal/domain"
	"trackline/internal/engine"
)

// Request payloads

type CreateInitiativeRequest struct {
	ID           *string `json:"id,omitempty"`
	Name         string  `json:"name" minLength:"1"`
	Type         string  `json:"type,omitempty" example:"Project"`
	Status       string  `json:"status,omitempty"`
	Milestone    string  `json:"milestone,omitempty"`
	Priority     string  `json:"priority,omitempty"`
	DepartmentID string  `json:"department_id,omitempty"`
	OwnerID      string  `json:"owner_id,omitempty"`
	AssigneeID   string  `json:"assignee_id,omitempty"`
	StartDate    string  `json:"start_date,omitempty" example:"2025-01-01"`
	EndDate      string  `json:"end_date,omitempty" example:"2025-06-30"`
}

type UpdateInitiativeRequest struct {
	Name         *string `json:"name,omitempty"`
	Type         *string `json:"type,omitempty"`
	Status       *string `json:"status,omitempty"`
	Milestone    *string `json:"milestone,omitempty"`
	Priority     *string `json:"priority,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
	OwnerID      *string `json:"owner_id,omitempty"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	StartDate    *string `json:"start_date,omitempty"`
	EndDate      *string `json:"end_date,omitempty"`
}

type SyncInitiativeItem struct {
	ID           string `json:"id" minLength:"1"`
	Name         string `json:"name,omitempty"`
	Type         string `json:"type,omitempty"`
	Status       string `json:"status,omitempty"`
	Milestone    string `json:"milestone,omitempty"`
	Priority     string `json:"priority,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

type SyncInitiativesRequest struct {
	Initiatives []SyncInitiativeItem `json:"initiatives"`
}

// Response payloads

type DurationResponse struct {
	InitiativeID string `json:"initiative_id"`
	Milestone    string `json:"milestone"`
	Days         int    `json:"days"`
}

type SnapshotDatesResponse struct {
	Dates []string `json:"dates"`
	Count int      `json:"count"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func createOptions(req CreateInitiativeRequest, actor string) engine.InitiativeCreateOptions {
	opts := engine.InitiativeCreateOptions{
		Name:         req.Name,
		Type:         req.Type,
		Status:       req.Status,
		Milestone:    req.Milestone,
		Priority:     req.Priority,
		DepartmentID: req.DepartmentID,
		OwnerID:      req.OwnerID,
		AssigneeID:   req.AssigneeID,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		ActorID:      actor,
	}
	if req.ID != nil {
		opts.ID = *req.ID
	}
	return opts
}

func updateOptions(id string, req UpdateInitiativeRequest, actor string) engine.InitiativeUpdateOptions {
	return engine.InitiativeUpdateOptions{
		ID:           id,
		Name:         req.Name,
		Type:         req.Type,
		Status:       req.Status,
		Milestone:    req.Milestone,
		Priority:     req.Priority,
		DepartmentID: req.DepartmentID,
		OwnerID:      req.OwnerID,
		AssigneeID:   req.AssigneeID,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		ActorID:      actor,
	}
}

func syncItems(req SyncInitiativesRequest) []domain.Initiative {
	items := make([]domain.Initiative, 0, len(req.Initiatives))
	for _, it := range req.Initiatives {
		items = append(items, domain.Initiative{
			ID:           it.ID,
			Name:         it.Name,
			Type:         it.Type,
			Status:       it.Status,
			Milestone:    it.Milestone,
			Priority:     it.Priority,
			DepartmentID: it.DepartmentID,
			OwnerID:      it.OwnerID,
			AssigneeID:   it.AssigneeID,
			CreatedAt:    it.CreatedAt,
			StartDate:    it.StartDate,
			EndDate:      it.EndDate,
		})
	}
	return items
}
