package model

import (
	"strings"
	"testing"
	"time"
)

func TestFolder_Validate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		folder  Folder
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid root folder",
			folder: Folder{
				ID:         "f-1",
				Name:       "Work",
				SyncStatus: SyncStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: false,
		},
		{
			name: "valid child folder",
			folder: Folder{
				ID:         "f-2",
				Name:       "Projects",
				ParentID:   "f-1",
				Depth:      1,
				SortOrder:  3,
				SyncStatus: SyncStatusSynced,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: false,
		},
		{
			name: "missing name",
			folder: Folder{
				ID:         "f-1",
				SyncStatus: SyncStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name: "name too long",
			folder: Folder{
				ID:         "f-1",
				Name:       strings.Repeat("x", 101),
				SyncStatus: SyncStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: true,
			errMsg:  "name must be 100 characters or less",
		},
		{
			name: "self parent",
			folder: Folder{
				ID:         "f-1",
				Name:       "Work",
				ParentID:   "f-1",
				Depth:      1,
				SyncStatus: SyncStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: true,
			errMsg:  "folder cannot be its own parent",
		},
		{
			name: "root with nonzero depth",
			folder: Folder{
				ID:         "f-1",
				Name:       "Work",
				Depth:      2,
				SyncStatus: SyncStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: true,
			errMsg:  "root folder must have depth 0",
		},
		{
			name: "negative sort order",
			folder: Folder{
				ID:         "f-1",
				Name:       "Work",
				SortOrder:  -1,
				SyncStatus: SyncStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: true,
			errMsg:  "sort_order must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.folder.Validate()
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

func TestDefaultFolders(t *testing.T) {
	folders := DefaultFolders()

	if len(folders) != 4 {
		t.Fatalf("got %d default folders, want 4", len(folders))
	}
	if folders[0].Name != "All Notes" || !folders[0].IsSystem {
		t.Errorf("first default folder = %q (system=%v), want system folder %q",
			folders[0].Name, folders[0].IsSystem, "All Notes")
	}
	for i, f := range folders {
		if f.SortOrder != i {
			t.Errorf("folder %q sort order = %d, want %d", f.Name, f.SortOrder, i)
		}
		if f.ParentID != "" || f.Depth != 0 {
			t.Errorf("folder %q is not a root folder", f.Name)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("default folder %q is invalid: %v", f.Name, err)
		}
	}
	for _, f := range folders[1:] {
		if f.IsSystem {
			t.Errorf("folder %q should not be a system folder", f.Name)
		}
	}
}
