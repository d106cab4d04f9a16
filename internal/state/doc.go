// Package state holds the session-scoped Hub that owns every synchronized
// collection for one signed-in viewer.
//
// # Overview
//
// A Hub is built explicitly when a session starts and passed by reference to
// whatever needs it: the feed pump writes into it and the console reads from
// it. There is no package-level instance. Close ends the session and
// discards all held records.
//
//	Producer (feed pump):            Consumer (console):
//	┌──────────────────┐            ┌──────────────────┐
//	│ feed.Changes()   │            │ hub.OnChange()   │
//	│      ↓           │            │      ↓           │
//	│ hub.Apply()      │───────────→│ hub.Snapshot()   │
//	│                  │  (mutex)   │      ↓           │
//	│ Disconnected → Pause          │ render           │
//	│ Reconnected  → Resume         │                  │
//	└──────────────────┘            └──────────────────┘
//
// # Visibility
//
// Clan requests of a non-privileged viewer are scoped to rows whose user_id
// is the viewer: the snapshot query carries an equality filter, the feed
// subscription uses ServerFilter, and the collection ignores events for any
// other author. Privileged viewers hold every request.
//
// # Read State
//
// MarkAsRead flips the local read flag before the remote update returns.
// When the update fails the flag is put back, unless a newer change
// already overwrote it, and the error is returned to the caller.
//
// # Mutations
//
// Create, Patch and Remove are admin operations and return ErrForbidden for
// non-privileged viewers. They do not touch local state; the change feed
// delivers the result. RequestToJoin always writes the viewer's id and a
// pending status. ResolveRequest is privileged-only.
//
// # Errors
//
//   - Refresh and Resume join the errors of every collection (errors.Join)
//   - ErrUnknownKind for kinds the hub does not hold
//   - ErrNotFound when MarkAsRead targets a notification not held
//   - collection.ErrClosed after Close
package state
