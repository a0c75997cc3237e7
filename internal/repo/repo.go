// Package repo provides typed CRUD façades over the entity store.
//
// Each repository pairs its entity writes with sync-queue bookkeeping inside
// one transaction: a crash can never leave a local mutation untracked. Reads
// decode storage rows into internal/model records at this boundary - raw
// JSON columns (tags, attendees, queue payloads) never leak above it.
//
// Repositories return validation errors synchronously; nothing invalid
// reaches the queue. Sentinel errors (ErrNotFound, ErrCycle, ...) support
// errors.Is branching in callers.
package repo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/glideapp/glide-sync/internal/store"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCycle is returned when a folder move would make a folder its own ancestor.
	ErrCycle = errors.New("folder move would create a cycle")
	// ErrSystemFolder is returned when a caller tries to rename, move, or
	// delete a system folder.
	ErrSystemFolder = errors.New("system folders cannot be modified")
	// ErrDuplicateName is returned when a live folder with the same name exists.
	ErrDuplicateName = errors.New("folder name already in use")
	// ErrFolderNotEmpty is returned when deleting a folder that still holds
	// notes or subfolders.
	ErrFolderNotEmpty = errors.New("folder still has notes or subfolders")
)

// Repos bundles the four repositories over one store.
type Repos struct {
	Notes   *Notes
	Folders *Folders
	Actions *Actions
	Queue   *Queue
}

// New wires the repositories. The entity repositories share the queue so
// their mutations can enqueue inside their own transactions.
func New(db *store.Store, logger zerolog.Logger) *Repos {
	queue := &Queue{db: db, log: logger.With().Str("component", "queue").Logger()}
	return &Repos{
		Queue:   queue,
		Notes:   &Notes{db: db, queue: queue, log: logger.With().Str("component", "notes").Logger()},
		Folders: &Folders{db: db, queue: queue, log: logger.With().Str("component", "folders").Logger()},
		Actions: &Actions{db: db, queue: queue, log: logger.With().Str("component", "actions").Logger()},
	}
}

// timeLayout is RFC 3339 with a fixed-width nanosecond fraction so that
// string comparison in SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// timeToNullString converts an optional time to a nullable column value.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable column value back to an optional time.
func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// stringToNull stores empty strings as NULL (server_id, parent_id, folder_id).
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullToString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeStrings serializes a string list for a JSON text column.
func encodeStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

// decodeStrings deserializes a JSON text column into a string list.
func decodeStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return list, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
