package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestChangeEntry_Validate(t *testing.T) {
	payload, _ := json.Marshal(NewNote("test", ""))

	tests := []struct {
		name    string
		entry   ChangeEntry
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid create",
			entry: ChangeEntry{
				EntityType: EntityNote,
				EntityID:   "n-1",
				Op:         OpCreate,
				Payload:    payload,
				Status:     ChangePending,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			},
			wantErr: false,
		},
		{
			name: "valid delete without payload",
			entry: ChangeEntry{
				EntityType: EntityFolder,
				EntityID:   "f-1",
				Op:         OpDelete,
				Status:     ChangePending,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			},
			wantErr: false,
		},
		{
			name: "unknown entity type",
			entry: ChangeEntry{
				EntityType: "widget",
				EntityID:   "w-1",
				Op:         OpCreate,
				Payload:    payload,
				Status:     ChangePending,
			},
			wantErr: true,
			errMsg:  "invalid entity type",
		},
		{
			name: "missing entity id",
			entry: ChangeEntry{
				EntityType: EntityNote,
				Op:         OpCreate,
				Payload:    payload,
				Status:     ChangePending,
			},
			wantErr: true,
			errMsg:  "entity_id is required",
		},
		{
			name: "create without payload",
			entry: ChangeEntry{
				EntityType: EntityNote,
				EntityID:   "n-1",
				Op:         OpCreate,
				Status:     ChangePending,
			},
			wantErr: true,
			errMsg:  "payload is required",
		},
		{
			name: "unknown op",
			entry: ChangeEntry{
				EntityType: EntityNote,
				EntityID:   "n-1",
				Op:         "upsert",
				Payload:    payload,
				Status:     ChangePending,
			},
			wantErr: true,
			errMsg:  "invalid op",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.HasPrefix(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want prefix %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestChangeEntry_DecodePayload(t *testing.T) {
	note := NewNote("Groceries", "milk")
	payload, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	entry := ChangeEntry{
		EntityType: EntityNote,
		EntityID:   note.ID,
		Op:         OpCreate,
		Payload:    payload,
	}

	got, err := entry.DecodeNote()
	if err != nil {
		t.Fatalf("DecodeNote() failed: %v", err)
	}
	if got.ID != note.ID {
		t.Errorf("decoded ID = %s, want %s", got.ID, note.ID)
	}
	if got.Title != "Groceries" {
		t.Errorf("decoded Title = %s, want Groceries", got.Title)
	}

	// Wrong-type decode is an error, not a zero value.
	if _, err := entry.DecodeFolder(); err == nil {
		t.Error("DecodeFolder() on a note entry should fail")
	}
	if _, err := entry.DecodeAction(); err == nil {
		t.Error("DecodeAction() on a note entry should fail")
	}
}

func TestAction_Validate(t *testing.T) {
	action := NewAction("n-1", ActionTypeCalendar, "Team sync")
	if err := action.Validate(); err != nil {
		t.Fatalf("Validate() failed for new action: %v", err)
	}

	action.ExternalRef = "evt-123"
	if err := action.Validate(); err == nil {
		t.Error("Validate() should reject external_ref on a pending action")
	}

	action.MarkExecuted("evt-123")
	if err := action.Validate(); err != nil {
		t.Errorf("Validate() failed for executed action: %v", err)
	}
	if action.Status != ActionStatusExecuted {
		t.Errorf("Status = %s, want %s", action.Status, ActionStatusExecuted)
	}

	action.Type = "telegram"
	if err := action.Validate(); err == nil {
		t.Error("Validate() should reject unknown action type")
	}
}
