package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Folder organizes notes into a tree. ParentID is empty for roots; Depth is
// always parent depth + 1 (0 at the root) and SortOrder is unique within a
// sibling set. Both are maintained by the folder repository, not by callers.
type Folder struct {
	ID       string `json:"id"`
	ServerID string `json:"server_id,omitempty"`

	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`

	// IsSystem marks stock folders ("All Notes") that may not be renamed,
	// moved, or deleted.
	IsSystem bool `json:"is_system,omitempty"`

	ParentID  string `json:"parent_id,omitempty"` // empty = root
	SortOrder int    `json:"sort_order"`
	Depth     int    `json:"depth"`

	IsDeleted bool       `json:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// NewFolder creates a folder with a fresh client UUID under the given parent
// (empty parentID = root). Depth and SortOrder are finalized by the
// repository on create.
func NewFolder(name, icon, color, parentID string) *Folder {
	now := time.Now().UTC()
	return &Folder{
		ID:         uuid.NewString(),
		Name:       name,
		Icon:       icon,
		Color:      color,
		ParentID:   parentID,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: SyncStatusPending,
	}
}

// DefaultFolders returns the stock set seeded into a fresh account:
// the "All Notes" system folder plus the three starter folders.
func DefaultFolders() []*Folder {
	all := NewFolder("All Notes", "tray.full", "", "")
	all.IsSystem = true
	all.SortOrder = 0
	work := NewFolder("Work", "briefcase", "", "")
	work.SortOrder = 1
	personal := NewFolder("Personal", "person", "", "")
	personal.SortOrder = 2
	ideas := NewFolder("Ideas", "lightbulb", "", "")
	ideas.SortOrder = 3
	return []*Folder{all, work, personal, ideas}
}

// Validate checks that the folder has valid field values.
func (f *Folder) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Name) > 100 {
		return fmt.Errorf("name must be 100 characters or less (got %d)", len(f.Name))
	}
	if f.ParentID == f.ID {
		return fmt.Errorf("folder cannot be its own parent")
	}
	if f.Depth < 0 {
		return fmt.Errorf("depth must not be negative (got %d)", f.Depth)
	}
	if f.SortOrder < 0 {
		return fmt.Errorf("sort_order must not be negative (got %d)", f.SortOrder)
	}
	if f.ParentID == "" && f.Depth != 0 {
		return fmt.Errorf("root folder must have depth 0 (got %d)", f.Depth)
	}
	if !f.SyncStatus.IsValid() {
		return fmt.Errorf("invalid sync status: %s", f.SyncStatus)
	}
	if f.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if f.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (f *Folder) SetDefaults() {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.SyncStatus == "" {
		f.SyncStatus = SyncStatusPending
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
}

// Touch sets UpdatedAt to the current time.
func (f *Folder) Touch() {
	f.UpdatedAt = time.Now().UTC()
}

// MarkDeleted soft-deletes the folder.
func (f *Folder) MarkDeleted() {
	now := time.Now().UTC()
	f.IsDeleted = true
	f.DeletedAt = &now
	f.UpdatedAt = now
}
