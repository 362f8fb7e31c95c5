package domain

// DateLayout is the calendar-day key format used by snapshots.
const DateLayout = "2006-01-02"

const (
	TypeProject = "Project"
	TypeCR      = "CR"
)

const (
	PeriodCurrent   = "Current"
	PeriodCompleted = "Completed"
)

// Initiative is the live, authoritative record of a tracked work item.
type Initiative struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Milestone    string `json:"milestone"`
	Priority     string `json:"priority,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// InitiativeState is the copy of an initiative held inside a snapshot.
// It is historical data and never authoritative.
type InitiativeState struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Milestone    string `json:"milestone"`
	Priority     string `json:"priority,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

func StateFromInitiative(in Initiative) InitiativeState {
	return InitiativeState{
		ID:           in.ID,
		Name:         in.Name,
		Type:         in.Type,
		Status:       in.Status,
		Milestone:    in.Milestone,
		Priority:     in.Priority,
		DepartmentID: in.DepartmentID,
		OwnerID:      in.OwnerID,
		AssigneeID:   in.AssigneeID,
		CreatedAt:    in.CreatedAt,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		UpdatedAt:    in.UpdatedAt,
	}
}

// Snapshot is the immutable capture of every initiative on one calendar day.
type Snapshot struct {
	Date        string            `json:"date"`
	Initiatives []InitiativeState `json:"initiatives"`
	CreatedAt   string            `json:"created_at,omitempty" format:"date-time"`
}

// Find returns the state recorded for id, if the initiative was observed.
func (s Snapshot) Find(id string) (InitiativeState, bool) {
	for _, st := range s.Initiatives {
		if st.ID == id {
			return st, true
		}
	}
	return InitiativeState{}, false
}

// MilestonePeriod is one contiguous span during which an initiative held a milestone.
type MilestonePeriod struct {
	Milestone    string  `json:"milestone"`
	StartDate    string  `json:"start_date"`
	EndDate      *string `json:"end_date"`
	DurationDays int     `json:"duration_days"`
	Status       string  `json:"status" enum:"Current,Completed"`
}

type InitiativeDurations struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	CurrentMilestone string            `json:"current_milestone"`
	MilestoneDetails []MilestonePeriod `json:"milestone_details"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
