package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/five82/clanhub/internal/model"
)

// Create inserts a record. A record without an id gets one from
// Options.NewID when set, otherwise the server assigns it. The collection
// picks the row up from the change feed.
func (h *Hub) Create(ctx context.Context, kind model.Kind, rec model.Record) (model.Record, error) {
	if err := h.requireAdmin(kind, "create"); err != nil {
		return nil, err
	}
	row := rec.Clone()
	if row == nil {
		row = model.Record{}
	}
	if row.ID() == "" && h.newID != nil {
		row[model.FieldID] = h.newID()
	}
	created, err := h.remote.Insert(ctx, kind, row)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}
	return created, nil
}

// Patch updates fields of one record.
func (h *Hub) Patch(ctx context.Context, kind model.Kind, id string, fields model.Record) (model.Record, error) {
	if err := h.requireAdmin(kind, "update"); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("update %s: id is required", kind)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("update %s %s: no fields", kind, id)
	}
	updated, err := h.remote.Update(ctx, kind, id, fields)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	return updated, nil
}

// Remove deletes one record.
func (h *Hub) Remove(ctx context.Context, kind model.Kind, id string) error {
	if err := h.requireAdmin(kind, "delete"); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("delete %s: id is required", kind)
	}
	if err := h.remote.Delete(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

// RequestToJoin files a clan join request for the viewer. user_id and status
// are always set by the hub.
func (h *Hub) RequestToJoin(ctx context.Context, fields model.Record) (model.Record, error) {
	if h.viewer.Anonymous() {
		return nil, fmt.Errorf("request to join: %w", ErrForbidden)
	}
	if _, err := h.collection(model.KindClanRequests); err != nil {
		return nil, err
	}
	row := fields.Clone()
	if row == nil {
		row = model.Record{}
	}
	if row.ID() == "" && h.newID != nil {
		row[model.FieldID] = h.newID()
	}
	row[model.FieldUserID] = h.viewer.ID
	row[model.FieldStatus] = StatusPending

	created, err := h.remote.Insert(ctx, model.KindClanRequests, row)
	if err != nil {
		return nil, fmt.Errorf("request to join: %w", err)
	}
	return created, nil
}

// ResolveRequest approves or rejects a pending clan request.
func (h *Hub) ResolveRequest(ctx context.Context, id string, approved bool) (model.Record, error) {
	if !h.viewer.Privileged {
		return nil, fmt.Errorf("resolve request %s: %w", id, ErrForbidden)
	}
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	return h.Patch(ctx, model.KindClanRequests, id, model.Record{model.FieldStatus: status})
}

func (h *Hub) requireAdmin(kind model.Kind, op string) error {
	if _, err := h.collection(kind); err != nil {
		return err
	}
	if !h.viewer.Privileged {
		return fmt.Errorf("%s %s: %w", op, kind, ErrForbidden)
	}
	return nil
}
