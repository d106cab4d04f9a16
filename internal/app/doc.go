// Package app provides the orchestration layer for clanhub.
//
// # Overview
//
// This package wires configuration, the signed-in session, the state hub,
// the realtime feed and the UI together. It is the composition root where
// every dependency is built and connected.
//
// # Startup
//
//  1. Load ~/.config/clanhub/config.toml (env overrides apply) and validate it
//  2. Redirect the standard logger to the configured log file
//  3. Restore, refresh or create the session and install its access token
//  4. Resolve the viewer, asking the profiles table for the admin role
//  5. Build the state.Hub and subscribe the feed to every collection
//  6. Start the feed, the change pump and the token refresher
//  7. Load every collection once, then run the UI until it exits
//
// # Data Flow
//
//	┌──────────────┐   changes    ┌──────────┐   Apply    ┌───────────┐
//	│ feed.Client  │ ───────────> │  Pump    │ ─────────> │ state.Hub │
//	│ (websocket)  │ ───────────> │          │ Pause/     │           │
//	└──────────────┘   states     └──────────┘ Resume     └─────┬─────┘
//	                                                            │ OnChange
//	                                                            v
//	                                                       ┌─────────┐
//	                                                       │   ui    │
//	                                                       └─────────┘
//
// A dropped connection pauses every collection. Every connect, the first
// one included, resumes them, which reloads each from the backend so changes
// missed before the joins landed are picked up.
//
// # Sessions
//
// The session is stored in ~/.local/state/clanhub/session.toml with 0600
// permissions. A background refresher renews the access token two minutes
// before it expires, saves the result and pushes the new token to the feed.
// Refresh failures are retried with backoff. A store call rejected with 401
// renews the session once and is retried.
//
// # Error Handling
//
// Fatal errors (returned from Run):
//   - Invalid configuration
//   - No stored session and no credentials
//   - Sign-in failure
//
// Recoverable errors (logged):
//   - Initial collection loads
//   - Realtime connection loss
//   - Profile lookup and token refresh failures
package app
