package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies which table a change entry targets.
type EntityType string

const (
	EntityNote   EntityType = "note"
	EntityFolder EntityType = "folder"
	EntityAction EntityType = "action"
)

// IsValid reports whether t is one of the known entity types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityNote, EntityFolder, EntityAction:
		return true
	}
	return false
}

// Op is the mutation kind captured by a change entry.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// IsValid reports whether o is one of the known operations.
func (o Op) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeStatus tracks a queue entry through the push pipeline. Completed
// entries are deleted, not kept, so there is no terminal success status.
type ChangeStatus string

const (
	// ChangePending is waiting to be pushed.
	ChangePending ChangeStatus = "pending"
	// ChangeInflight is being pushed right now.
	ChangeInflight ChangeStatus = "inflight"
	// ChangeFailed has one or more failed push attempts behind it. Entries
	// under the attempt ceiling are requeued automatically; entries at or
	// over it wait for a manual retry.
	ChangeFailed ChangeStatus = "failed"
	// ChangeRejected was permanently refused by the server (the entity no
	// longer exists there, or the payload was invalid). Never retried
	// automatically; a manual bulk retry revives it.
	ChangeRejected ChangeStatus = "rejected"
)

// IsValid reports whether s is one of the known change statuses.
func (s ChangeStatus) IsValid() bool {
	switch s {
	case ChangePending, ChangeInflight, ChangeFailed, ChangeRejected:
		return true
	}
	return false
}

// ChangeEntry is one durable row of the sync queue: a mutation made locally
// that the server has not acknowledged yet. Payload is the JSON snapshot of
// the entity at mutation time; entries for the same entity are pushed in id
// (creation) order.
type ChangeEntry struct {
	ID         int64           `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Op         Op              `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     ChangeStatus    `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Validate checks that the entry has valid field values.
func (e *ChangeEntry) Validate() error {
	if !e.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %s", e.EntityType)
	}
	if e.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !e.Op.IsValid() {
		return fmt.Errorf("invalid op: %s", e.Op)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	if e.Op != OpDelete && len(e.Payload) == 0 {
		return fmt.Errorf("payload is required for %s entries", e.Op)
	}
	if e.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative (got %d)", e.Attempts)
	}
	return nil
}

// DecodeNote decodes the payload snapshot into a Note.
func (e *ChangeEntry) DecodeNote() (*Note, error) {
	if e.EntityType != EntityNote {
		return nil, fmt.Errorf("entry targets %s, not a note", e.EntityType)
	}
	var n Note
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return nil, fmt.Errorf("failed to decode note payload for entry %d: %w", e.ID, err)
	}
	return &n, nil
}

// DecodeFolder decodes the payload snapshot into a Folder.
func (e *ChangeEntry) DecodeFolder() (*Folder, error) {
	if e.EntityType != EntityFolder {
		return nil, fmt.Errorf("entry targets %s, not a folder", e.EntityType)
	}
	var f Folder
	if err := json.Unmarshal(e.Payload, &f); err != nil {
		return nil, fmt.Errorf("failed to decode folder payload for entry %d: %w", e.ID, err)
	}
	return &f, nil
}

// DecodeAction decodes the payload snapshot into an Action.
func (e *ChangeEntry) DecodeAction() (*Action, error) {
	if e.EntityType != EntityAction {
		return nil, fmt.Errorf("entry targets %s, not an action", e.EntityType)
	}
	var a Action
	if err := json.Unmarshal(e.Payload, &a); err != nil {
		return nil, fmt.Errorf("failed to decode action payload for entry %d: %w", e.ID, err)
	}
	return &a, nil
}
