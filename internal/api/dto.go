package api

import (
	"time"

	"github.com/glideapp/glide-sync/internal/model"
)

// Wire DTOs mirror the backend's JSON shapes. A DTO's ID is always the
// server's id; local UUIDs never cross the wire. Cross-entity references
// (folder_id, note_id) are server ids too - the engine maps them to local
// ids on the way in and back to server ids on the way out.

// NoteDTO is a note as the backend sends and receives it.
type NoteDTO struct {
	ID              string     `json:"id,omitempty"`
	Title           string     `json:"title"`
	Transcript      string     `json:"transcript,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	AudioURL        string     `json:"audio_url,omitempty"`
	FolderID        string     `json:"folder_id,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	IsPinned        bool       `json:"is_pinned,omitempty"`
	IsArchived      bool       `json:"is_archived,omitempty"`
	IsDeleted       bool       `json:"is_deleted,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	AIProcessed     bool       `json:"ai_processed,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

// NoteToDTO converts a local note for pushing. serverFolderID is the mapped
// server id of the note's folder (empty when unfiled). The local spool path
// never leaves the device.
func NoteToDTO(n *model.Note, serverFolderID string) NoteDTO {
	return NoteDTO{
		ID:              n.ServerID,
		Title:           n.Title,
		Transcript:      n.Transcript,
		Summary:         n.Summary,
		DurationSeconds: n.DurationSeconds,
		AudioURL:        n.AudioURL,
		FolderID:        serverFolderID,
		Tags:            n.Tags,
		IsPinned:        n.IsPinned,
		IsArchived:      n.IsArchived,
		IsDeleted:       n.IsDeleted,
		DeletedAt:       n.DeletedAt,
		AIProcessed:     n.AIProcessed,
		CreatedAt:       n.CreatedAt.UTC(),
		UpdatedAt:       n.UpdatedAt.UTC(),
	}
}

// ToModel converts a pulled note. localFolderID is the local id the engine
// resolved for the DTO's folder reference (empty when unfiled or
// unresolvable).
func (d NoteDTO) ToModel(localFolderID string) *model.Note {
	return &model.Note{
		ServerID:        d.ID,
		Title:           d.Title,
		Transcript:      d.Transcript,
		Summary:         d.Summary,
		DurationSeconds: d.DurationSeconds,
		AudioURL:        d.AudioURL,
		FolderID:        localFolderID,
		Tags:            d.Tags,
		IsPinned:        d.IsPinned,
		IsArchived:      d.IsArchived,
		IsDeleted:       d.IsDeleted,
		DeletedAt:       d.DeletedAt,
		AIProcessed:     d.AIProcessed,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// FolderDTO is a folder as the backend sends and receives it.
type FolderDTO struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name"`
	Icon      string     `json:"icon,omitempty"`
	Color     string     `json:"color,omitempty"`
	IsSystem  bool       `json:"is_system,omitempty"`
	ParentID  string     `json:"parent_id,omitempty"`
	SortOrder int        `json:"sort_order"`
	IsDeleted bool       `json:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// FolderToDTO converts a local folder for pushing. serverParentID is the
// mapped server id of the parent (empty at the root). Depth is derivable
// from the parent chain, so it stays local.
func FolderToDTO(f *model.Folder, serverParentID string) FolderDTO {
	return FolderDTO{
		ID:        f.ServerID,
		Name:      f.Name,
		Icon:      f.Icon,
		Color:     f.Color,
		IsSystem:  f.IsSystem,
		ParentID:  serverParentID,
		SortOrder: f.SortOrder,
		IsDeleted: f.IsDeleted,
		DeletedAt: f.DeletedAt,
		CreatedAt: f.CreatedAt.UTC(),
		UpdatedAt: f.UpdatedAt.UTC(),
	}
}

// ToModel converts a pulled folder. localParentID and depth come from the
// engine's parent resolution.
func (d FolderDTO) ToModel(localParentID string, depth int) *model.Folder {
	return &model.Folder{
		ServerID:  d.ID,
		Name:      d.Name,
		Icon:      d.Icon,
		Color:     d.Color,
		IsSystem:  d.IsSystem,
		ParentID:  localParentID,
		SortOrder: d.SortOrder,
		Depth:     depth,
		IsDeleted: d.IsDeleted,
		DeletedAt: d.DeletedAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// ActionDTO is an action as the backend sends and receives it.
type ActionDTO struct {
	ID           string     `json:"id,omitempty"`
	NoteID       string     `json:"note_id,omitempty"`
	Type         string     `json:"action_type"`
	Status       string     `json:"status,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Title        string     `json:"title"`
	Details      string     `json:"details,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Location     string     `json:"location,omitempty"`
	Attendees    []string   `json:"attendees,omitempty"`
	EmailTo      string     `json:"email_to,omitempty"`
	EmailSubject string     `json:"email_subject,omitempty"`
	EmailBody    string     `json:"email_body,omitempty"`
	ExternalRef  string     `json:"external_ref,omitempty"`
	IsDeleted    bool       `json:"is_deleted,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

// ActionToDTO converts a local action for pushing. serverNoteID is the
// mapped server id of the owning note.
func ActionToDTO(a *model.Action, serverNoteID string) ActionDTO {
	return ActionDTO{
		ID:           a.ServerID,
		NoteID:       serverNoteID,
		Type:         string(a.Type),
		Status:       string(a.Status),
		Priority:     string(a.Priority),
		Title:        a.Title,
		Details:      a.Details,
		ScheduledAt:  a.ScheduledAt,
		DueAt:        a.DueAt,
		Location:     a.Location,
		Attendees:    a.Attendees,
		EmailTo:      a.EmailTo,
		EmailSubject: a.EmailSubject,
		EmailBody:    a.EmailBody,
		ExternalRef:  a.ExternalRef,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
}

// ToModel converts a pulled action. localNoteID comes from the engine's
// note resolution. Action deletion has no local tombstone; IsDeleted is
// consumed by the engine, not mapped.
func (d ActionDTO) ToModel(localNoteID string) *model.Action {
	return &model.Action{
		ServerID:     d.ID,
		NoteID:       localNoteID,
		Type:         model.ActionType(d.Type),
		Status:       model.ActionStatus(d.Status),
		Priority:     model.Priority(d.Priority),
		Title:        d.Title,
		Details:      d.Details,
		ScheduledAt:  d.ScheduledAt,
		DueAt:        d.DueAt,
		Location:     d.Location,
		Attendees:    d.Attendees,
		EmailTo:      d.EmailTo,
		EmailSubject: d.EmailSubject,
		EmailBody:    d.EmailBody,
		ExternalRef:  d.ExternalRef,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// TokenPair is the backend's auth grant.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// UploadURLRequest asks for a presigned upload slot for a spooled recording.
type UploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// UploadTarget is the presigned slot: PUT the bytes to UploadURL, reference
// them at PublicURL afterwards.
type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
	// ExpiresIn is the slot lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}
