package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Note is a voice note: a transcript plus the metadata the client captures
// around it. Fields are flat with last-write-wins semantics; UpdatedAt
// decides conflicts during sync.
type Note struct {
	// ===== Identity =====
	ID       string `json:"id"`
	ServerID string `json:"server_id,omitempty"`

	// ===== Content =====
	Title           string  `json:"title"`
	Transcript      string  `json:"transcript,omitempty"`
	Summary         string  `json:"summary,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	// ===== Media =====
	AudioURL string `json:"audio_url,omitempty"` // remote, set after upload
	// LocalAudioPath points at a spooled recording that has not been uploaded
	// yet. Local-only: never serialized into push payloads by the API layer.
	LocalAudioPath string `json:"local_audio_path,omitempty"`

	// ===== Organization =====
	FolderID   string   `json:"folder_id,omitempty"` // local folder UUID, empty = unfiled
	Tags       []string `json:"tags,omitempty"`
	IsPinned   bool     `json:"is_pinned,omitempty"`
	IsArchived bool     `json:"is_archived,omitempty"`

	// ===== Deletion =====
	IsDeleted bool       `json:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// ===== AI pipeline =====
	AIProcessed bool `json:"ai_processed,omitempty"`

	// ===== Sync bookkeeping =====
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// NewNote creates a note with a fresh client UUID, pending sync status, and
// current timestamps.
func NewNote(title, transcript string) *Note {
	now := time.Now().UTC()
	return &Note{
		ID:         uuid.NewString(),
		Title:      title,
		Transcript: transcript,
		Tags:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: SyncStatusPending,
	}
}

// Validate checks that the note has valid field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(n.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(n.Title))
	}
	if n.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must not be negative (got %g)", n.DurationSeconds)
	}
	if !n.SyncStatus.IsValid() {
		return fmt.Errorf("invalid sync status: %s", n.SyncStatus)
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	if n.IsDeleted && n.DeletedAt == nil {
		return fmt.Errorf("deleted_at is required when is_deleted is set")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (n *Note) SetDefaults() {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.SyncStatus == "" {
		n.SyncStatus = SyncStatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
}

// Touch sets UpdatedAt to the current time. Call on every mutation; sync
// conflict resolution compares this field.
func (n *Note) Touch() {
	n.UpdatedAt = time.Now().UTC()
}

// MarkDeleted soft-deletes the note.
func (n *Note) MarkDeleted() {
	now := time.Now().UTC()
	n.IsDeleted = true
	n.DeletedAt = &now
	n.UpdatedAt = now
}

// Restore clears a soft delete.
func (n *Note) Restore() {
	n.IsDeleted = false
	n.DeletedAt = nil
	n.Touch()
}
