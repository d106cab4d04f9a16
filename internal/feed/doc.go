// Package feed is the realtime change-feed client.
//
// # Overview
//
// One websocket carries every table's changes. Each Subscription becomes a
// Phoenix channel join on topic "realtime:public:<table>" with a
// postgres_changes config and, optionally, an equality filter:
//
//	c, _ := feed.New(feed.Options{URL: cfg.RealtimeURL, APIKey: cfg.APIKey})
//	c.Subscribe(feed.Subscription{Table: model.KindNews})
//	go c.Run(ctx)
//	for ch := range c.Changes() {
//		hub.Apply(ctx, ch.Table, ch.Event)
//	}
//
// # Decoding
//
// Payloads are turned into model.Event values here so downstream code never
// sees operation strings. A change whose body cannot be decoded is still
// delivered, as model.Unknown, so the affected collection reloads.
//
// # Connection States
//
//	Connected     first successful connect, all joins sent
//	Disconnected  read or heartbeat failure
//	Reconnected   connected again; changes in the gap were lost
//
// After a failed dial the client waits calculateBackoff(failures, base),
// which doubles per failure and is capped at 30s. Every subscription is
// rejoined on reconnect.
//
// A single channel can also be dropped while the socket stays up (phx_close,
// phx_error or a system error). That table alone is rejoined with the
// current token, backing off on repeated losses, and once the server accepts
// the join a model.Unknown{Type: "rejoined"} change is delivered for it.
// PushToken forwards a renewed access token to every joined channel.
//
// # Concurrency
//
// Run owns the connection and is the only sender on Changes and States; both
// channels close when it returns. Writes from Run, the heartbeat goroutine,
// rejoin timers, Subscribe and PushToken share a write mutex with a deadline.
package feed
