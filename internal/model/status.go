package model

// SyncStatus tracks where an entity stands relative to the remote server.
type SyncStatus string

const (
	// SyncStatusSynced means the server has acknowledged the latest local version.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusPending means a local mutation is waiting in the sync queue.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusConflict means a remote version won conflict resolution over a local edit.
	SyncStatusConflict SyncStatus = "conflict"
	// SyncStatusError means the server permanently rejected the entity; it will
	// not be retried automatically.
	SyncStatusError SyncStatus = "error"
)

// IsValid reports whether s is one of the known sync statuses.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusSynced, SyncStatusPending, SyncStatusConflict, SyncStatusError:
		return true
	}
	return false
}
