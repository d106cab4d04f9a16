package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/five82/clanhub/internal/model"
)

// UnreadCount returns the number of held notifications not yet read.
func (h *Hub) UnreadCount() int {
	snap, ok := h.Snapshot(model.KindNotifications)
	if !ok {
		return 0
	}
	n := 0
	for _, rec := range snap.Records {
		if !rec.Bool(model.FieldRead) {
			n++
		}
	}
	return n
}

// MarkAsRead sets read=true on one notification. The local copy changes
// immediately; if the remote update fails the local field is put back,
// unless a newer change already replaced it, and the error is returned.
func (h *Hub) MarkAsRead(ctx context.Context, id string) error {
	c, err := h.collection(model.KindNotifications)
	if err != nil {
		return err
	}
	current, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("mark notification %s read: %w", id, ErrNotFound)
	}
	if current.Bool(model.FieldRead) {
		return nil
	}

	applied := model.Record{model.FieldRead: true}
	prior, held := c.Mutate(id, applied)

	if _, err := h.remote.Update(ctx, model.KindNotifications, id, applied); err != nil {
		// The record may have been removed or changed while the call was out.
		if held {
			c.Restore(id, applied, prior)
		}
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead marks every unread notification, continuing past failures.
func (h *Hub) MarkAllAsRead(ctx context.Context) error {
	snap, ok := h.Snapshot(model.KindNotifications)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, model.KindNotifications)
	}
	var errs []error
	for _, rec := range snap.Records {
		if rec.Bool(model.FieldRead) {
			continue
		}
		if err := h.MarkAsRead(ctx, rec.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
