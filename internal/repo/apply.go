package repo

// ApplyResult describes what applying a remote version did locally. The sync
// engine turns these into pulled/conflict counts.
type ApplyResult int

const (
	// ApplyInserted: the entity was new locally.
	ApplyInserted ApplyResult = iota
	// ApplyUpdated: the remote version won last-write-wins and replaced the
	// local row.
	ApplyUpdated
	// ApplySkippedEqual: the local row already carries this version (usually
	// the echo of our own push).
	ApplySkippedEqual
	// ApplySkippedOlder: the local row is newer; the remote version was
	// discarded. Recorded as a resolved conflict, not an error.
	ApplySkippedOlder
	// ApplyDeleted: a remote tombstone deleted the local row.
	ApplyDeleted
	// ApplySkippedMissing: a remote tombstone for an entity this device never
	// had; nothing to do.
	ApplySkippedMissing
)

// String returns a short name for logging.
func (a ApplyResult) String() string {
	switch a {
	case ApplyInserted:
		return "inserted"
	case ApplyUpdated:
		return "updated"
	case ApplySkippedEqual:
		return "skipped-equal"
	case ApplySkippedOlder:
		return "skipped-older"
	case ApplyDeleted:
		return "deleted"
	case ApplySkippedMissing:
		return "skipped-missing"
	}
	return "unknown"
}

// Applied reports whether the remote version changed local state.
func (a ApplyResult) Applied() bool {
	switch a {
	case ApplyInserted, ApplyUpdated, ApplyDeleted:
		return true
	}
	return false
}
