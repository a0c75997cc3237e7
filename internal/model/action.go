package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType classifies what an extracted action should turn into.
type ActionType string

const (
	ActionTypeCalendar ActionType = "calendar"
	ActionTypeEmail    ActionType = "email"
	ActionTypeReminder ActionType = "reminder"
	ActionTypeNextStep ActionType = "next_step"
)

// IsValid reports whether t is one of the known action types.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionTypeCalendar, ActionTypeEmail, ActionTypeReminder, ActionTypeNextStep:
		return true
	}
	return false
}

// ActionStatus tracks an action through its execution lifecycle.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusCreated   ActionStatus = "created"
	ActionStatusExecuted  ActionStatus = "executed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// IsValid reports whether s is one of the known action statuses.
func (s ActionStatus) IsValid() bool {
	switch s {
	case ActionStatusPending, ActionStatusCreated, ActionStatusExecuted,
		ActionStatusFailed, ActionStatusCancelled:
		return true
	}
	return false
}

// Priority is the urgency bucket assigned by extraction.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid reports whether p is one of the known priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Action is a structured item extracted from a note: a calendar event, an
// email draft, a reminder, or a next step. Actions are owned by their note
// and are hard-deleted when the note is deleted.
type Action struct {
	ID       string `json:"id"`
	ServerID string `json:"server_id,omitempty"`
	NoteID   string `json:"note_id"`

	Type     ActionType   `json:"action_type"`
	Status   ActionStatus `json:"status"`
	Priority Priority     `json:"priority"`

	Title   string `json:"title"`
	Details string `json:"details,omitempty"`

	// Calendar / reminder fields.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Location    string     `json:"location,omitempty"`
	Attendees   []string   `json:"attendees,omitempty"`

	// Email fields.
	EmailTo      string `json:"email_to,omitempty"`
	EmailSubject string `json:"email_subject,omitempty"`
	EmailBody    string `json:"email_body,omitempty"`

	// ExternalRef correlates the action with the external service object
	// (calendar event id, mail message id). Populated only after a
	// successful execute.
	ExternalRef string `json:"external_ref,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// NewAction creates an action for the given note with pending status and
// medium priority.
func NewAction(noteID string, typ ActionType, title string) *Action {
	now := time.Now().UTC()
	return &Action{
		ID:         uuid.NewString(),
		NoteID:     noteID,
		Type:       typ,
		Status:     ActionStatusPending,
		Priority:   PriorityMedium,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: SyncStatusPending,
	}
}

// Validate checks that the action has valid field values.
func (a *Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.NoteID == "" {
		return fmt.Errorf("note_id is required")
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid action type: %s", a.Type)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid action status: %s", a.Status)
	}
	if !a.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", a.Priority)
	}
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if a.ExternalRef != "" && a.Status != ActionStatusExecuted {
		return fmt.Errorf("external_ref may only be set on executed actions (status %s)", a.Status)
	}
	if !a.SyncStatus.IsValid() {
		return fmt.Errorf("invalid sync status: %s", a.SyncStatus)
	}
	if a.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if a.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (a *Action) SetDefaults() {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = ActionStatusPending
	}
	if a.Priority == "" {
		a.Priority = PriorityMedium
	}
	if a.SyncStatus == "" {
		a.SyncStatus = SyncStatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
}

// Touch sets UpdatedAt to the current time.
func (a *Action) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

// MarkExecuted records a successful execute with its external correlation id.
func (a *Action) MarkExecuted(externalRef string) {
	a.Status = ActionStatusExecuted
	a.ExternalRef = externalRef
	a.Touch()
}
