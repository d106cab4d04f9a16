// Package collection keeps an in-memory, ordered copy of one remote table in
// step with the backend.
//
// # Overview
//
// A Collection is fed from two sources:
//
//	LoadSnapshot(ctx)  full query, replaces the rows
//	Apply(ctx, ev)     one insert/update/delete folded in by id
//
// The feed client decodes wire payloads into model.Event values before they
// reach this package, so nothing here inspects raw operation strings.
//
// # Ordering
//
// Each kind has a Policy (see PolicyFor):
//
//   - leaderboard: ascending rank
//   - top players: descending score
//   - news, awards, notifications, clan requests: newest first, inserts
//     prepended in arrival order
//
// Ties are broken by id so the order is total.
//
// # Event Semantics
//
//	Insert   add; an id already held is merged like an update
//	Update   shallow merge by id; absent id is a no-op
//	Delete   remove by id; absent id is a no-op
//	Unknown  full reload
//
// Events that fail validation are dropped and a reload is scheduled. Records
// outside the visibility filter are never held and their events are ignored.
//
// # Lifecycle
//
//	Uninitialized ─LoadSnapshot→ Loading ─ok/err→ Ready ─LoadSnapshot→ Loading ...
//
// A failed load returns to Ready with the previous rows and records the error
// (LastError, ConsecutiveFailures). Events seen while a load is in flight are
// applied immediately and replayed over the loaded rows.
//
// Pause drops incoming events and keeps the rows; Resume reloads once. Close is
// final: later events return ErrClosed and an in-flight load's result is thrown
// away.
//
// # Concurrency
//
// All state sits behind one mutex that is never held across the loader call.
// Callers wanting to re-render can pass Options.OnChange; it runs outside the
// lock after every visible change.
package collection
