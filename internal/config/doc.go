// Package config loads clanhub's connection settings.
//
// # Resolution
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/clanhub/config.toml
//  3. A missing file is not an error; defaults are used
//  4. CLANHUB_BACKEND_URL and CLANHUB_API_KEY override the file
//
// # TOML Format
//
//	backend_url = "https://abc.supabase.co"
//	api_key = "<anon key>"
//	realtime_url = ""            # defaults to <backend_url>/realtime/v1
//	session_path = "~/.local/state/clanhub/session.toml"
//	log_file = "~/.local/state/clanhub/clanhub.log"
//	heartbeat_seconds = 25
//	reconnect_seconds = 2
//
// Values are trimmed and tilde paths are expanded. Non-positive intervals
// fall back to the defaults. Validate reports a missing backend_url or
// api_key, which Load itself does not treat as an error.
package config
