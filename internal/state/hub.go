package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/five82/clanhub/internal/auth"
	"github.com/five82/clanhub/internal/backend"
	"github.com/five82/clanhub/internal/collection"
	"github.com/five82/clanhub/internal/model"
)

var (
	// ErrForbidden is returned when the viewer lacks the privilege for a mutation.
	ErrForbidden = errors.New("not permitted for this viewer")
	// ErrNotFound is returned when a record is not held locally.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownKind is returned for a kind the hub does not synchronize.
	ErrUnknownKind = errors.New("unknown collection kind")
)

// Request statuses written by the clan join flow.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Options configure a Hub.
type Options struct {
	Remote backend.Store
	Viewer auth.Viewer

	// Kinds limits the synchronized collections. Empty means model.Kinds().
	Kinds []model.Kind

	// NewID generates ids for created records that carry none. Nil leaves the
	// id to the table's default, which suits serial and bigint keys.
	NewID func() string

	Logger *log.Logger
}

// Hub is the session-scoped container for every synchronized collection.
// Build one per signed-in session and Close it when the session ends.
type Hub struct {
	remote backend.Store
	viewer auth.Viewer
	newID  func() string
	logger *log.Logger

	kinds       []model.Kind
	collections map[model.Kind]*collection.Collection

	mu           sync.Mutex
	listeners    map[int]func(model.Kind)
	nextListener int
	closed       bool
}

// New builds a Hub. Collections start uninitialized; call Refresh to load them.
func New(opts Options) (*Hub, error) {
	if opts.Remote == nil {
		return nil, errors.New("remote store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	newID := opts.NewID
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = model.Kinds()
	}

	h := &Hub{
		remote:      opts.Remote,
		viewer:      opts.Viewer,
		newID:       newID,
		logger:      logger,
		collections: make(map[model.Kind]*collection.Collection, len(kinds)),
		listeners:   make(map[int]func(model.Kind)),
	}
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if _, dup := h.collections[kind]; dup {
			continue
		}
		h.kinds = append(h.kinds, kind)
		h.collections[kind] = collection.New(collection.Options{
			Policy:   collection.PolicyFor(kind),
			Loader:   h.loaderFor(kind),
			Visible:  h.visibilityFor(kind),
			OnChange: h.notify,
			Logger:   logger,
		})
	}
	return h, nil
}

// Kinds returns the synchronized kinds in display order.
func (h *Hub) Kinds() []model.Kind {
	return append([]model.Kind(nil), h.kinds...)
}

// Viewer returns the viewer the hub was built for.
func (h *Hub) Viewer() auth.Viewer {
	return h.viewer
}

// ServerFilter returns the equality filter for kind's change feed, or "" when
// the viewer may receive every record.
func (h *Hub) ServerFilter(kind model.Kind) string {
	if f, ok := h.ownerFilter(kind); ok {
		return f.Column + "=eq." + f.Value
	}
	return ""
}

// OnChange registers fn to run after any collection changes. The returned
// function removes it.
func (h *Hub) OnChange(fn func(model.Kind)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || fn == nil {
		return func() {}
	}
	id := h.nextListener
	h.nextListener++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Refresh reloads every collection concurrently. Failures are joined; a
// failed collection keeps its previous records.
func (h *Hub) Refresh(ctx context.Context) error {
	return h.each(func(c *collection.Collection) error {
		return c.LoadSnapshot(ctx)
	})
}

// RefreshKind reloads one collection.
func (h *Hub) RefreshKind(ctx context.Context, kind model.Kind) error {
	c, err := h.collection(kind)
	if err != nil {
		return err
	}
	return c.LoadSnapshot(ctx)
}

// Apply folds one change event into its collection.
func (h *Hub) Apply(ctx context.Context, kind model.Kind, ev model.Event) error {
	c, err := h.collection(kind)
	if err != nil {
		return err
	}
	return c.Apply(ctx, ev)
}

// Pause stops applying change events, typically while the feed is down.
func (h *Hub) Pause() {
	for _, kind := range h.kinds {
		h.collections[kind].Pause()
	}
}

// Resume restarts event application and reloads each collection once, since
// events missed while paused are lost.
func (h *Hub) Resume(ctx context.Context) error {
	return h.each(func(c *collection.Collection) error {
		return c.Resume(ctx)
	})
}

// Close discards every collection. Loads still in flight are dropped when
// they resolve. Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clear(h.listeners)
	h.mu.Unlock()

	for _, kind := range h.kinds {
		h.collections[kind].Close()
	}
}

// Snapshot returns a copy of one collection. ok is false for kinds the hub
// does not hold.
func (h *Hub) Snapshot(kind model.Kind) (collection.Snapshot, bool) {
	c, ok := h.collections[kind]
	if !ok {
		return collection.Snapshot{Kind: kind}, false
	}
	return c.Snapshot(), true
}

func (h *Hub) collection(kind model.Kind) (*collection.Collection, error) {
	c, ok := h.collections[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return c, nil
}

func (h *Hub) each(fn func(c *collection.Collection) error) error {
	errs := make([]error, len(h.kinds))
	var wg sync.WaitGroup
	for i, kind := range h.kinds {
		wg.Add(1)
		go func(i int, c *collection.Collection) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, h.collections[kind])
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (h *Hub) notify(kind model.Kind) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(model.Kind), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(kind)
	}
}

// ownerFilter reports the owner predicate that scopes kind for this viewer.
func (h *Hub) ownerFilter(kind model.Kind) (backend.Filter, bool) {
	if kind != model.KindClanRequests || h.viewer.Privileged {
		return backend.Filter{}, false
	}
	return backend.Filter{Column: model.FieldUserID, Value: strings.TrimSpace(h.viewer.ID)}, true
}

func (h *Hub) visibilityFor(kind model.Kind) func(model.Record) bool {
	f, scoped := h.ownerFilter(kind)
	switch {
	case !scoped:
		return nil
	case f.Value == "":
		return func(model.Record) bool { return false }
	default:
		return collection.OwnedBy(f.Value)
	}
}

func (h *Hub) loaderFor(kind model.Kind) collection.Loader {
	q := queryFor(kind)
	f, scoped := h.ownerFilter(kind)
	if scoped {
		if f.Value == "" {
			return func(context.Context) ([]model.Record, error) { return nil, nil }
		}
		q.Filters = append(q.Filters, f)
	}
	return func(ctx context.Context) ([]model.Record, error) {
		return h.remote.Select(ctx, q)
	}
}

// queryFor returns the full-table select for a kind, including the author
// expansions the console shows.
func queryFor(kind model.Kind) backend.Query {
	newest := []backend.Order{{Column: model.FieldCreatedAt, Desc: true}}
	switch kind {
	case model.KindNews:
		return backend.Query{Table: kind, Columns: "*,author:profiles(username)", Order: newest}
	case model.KindLeaderboard:
		return backend.Query{Table: kind, Order: []backend.Order{{Column: model.FieldRank}}}
	case model.KindTopPlayers:
		return backend.Query{Table: kind, Columns: "*,player:profiles(username)", Order: []backend.Order{{Column: model.FieldScore, Desc: true}}}
	case model.KindClanRequests:
		return backend.Query{Table: kind, Columns: "*,applicant:profiles(username)", Order: newest}
	default:
		return backend.Query{Table: kind, Order: newest}
	}
}
