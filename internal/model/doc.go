// Package model defines the domain records persisted by the local store.
//
// # Overview
//
// This package provides the entity types for the offline-first data layer:
// Notes, Folders, Actions, and the ChangeEntry rows that make up the durable
// sync queue. Every record is identified by a client-generated UUID that
// stays stable across sync; the server assigns its own identifier on the
// first acknowledged push, carried here as ServerID.
//
// # Sync fields
//
// All syncable entities share the same bookkeeping tail:
//   - CreatedAt / UpdatedAt - conflict resolution is last-write-wins on
//     UpdatedAt, so every mutation MUST touch it (see Touch).
//   - SyncedAt - set when the server last acknowledged this record.
//   - SyncStatus - synced, pending, conflict, or error.
//
// # Usage Examples
//
// Creating a note offline:
//
//	note := model.NewNote("Groceries", "milk, eggs, coffee")
//	note.Tags = []string{"errands"}
//	err := notes.Create(ctx, note)
//
// Snapshotting an entity for the sync queue:
//
//	payload, err := json.Marshal(note)
//
// The JSON encoding of these types is the queue payload format and the
// export format; wire DTOs for the remote API live in internal/api.
package model
