package collection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/five82/clanhub/internal/model"
)

// State is the load lifecycle of a collection.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

var (
	// ErrClosed is returned once a collection has been closed.
	ErrClosed = errors.New("collection closed")

	// ErrMalformed marks an event that cannot be applied.
	ErrMalformed = errors.New("malformed change event")
)

// Loader fetches the full remote contents of a collection.
type Loader func(ctx context.Context) ([]model.Record, error)

// Options configure a Collection.
type Options struct {
	Policy Policy
	Loader Loader

	// Visible restricts which records may be held. Nil admits everything.
	Visible func(model.Record) bool

	// OnChange is called after every state change, outside the lock.
	OnChange func(model.Kind)

	Logger *log.Logger
}

// Snapshot is a point-in-time copy of a collection.
type Snapshot struct {
	Kind                model.Kind
	Records             []model.Record
	State               State
	Paused              bool
	Closed              bool
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int
}

// Loading reports whether a snapshot load is in flight.
func (s Snapshot) Loading() bool {
	return s.State == Loading
}

// IsOffline returns true when the remote has failed to load several times in a row.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Collection mirrors one remote table as an ordered, id-unique list.
type Collection struct {
	policy   Policy
	loader   Loader
	visible  func(model.Record) bool
	onChange func(model.Kind)
	logger   *log.Logger

	mu      sync.Mutex
	records []model.Record
	state   State
	paused  bool
	closed  bool
	loadSeq uint64
	// pending holds events seen while a load is outstanding; they are
	// replayed over the loaded rows.
	pending []model.Event
	// staleSeq names a load that began before a change it cannot replay
	// (unknown or malformed); that load is followed by another.
	staleSeq uint64

	lastUpdated time.Time
	lastErr     error
	failures    int
}

// New builds an uninitialized collection.
func New(opts Options) *Collection {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Collection{
		policy:   opts.Policy,
		loader:   opts.Loader,
		visible:  opts.Visible,
		onChange: opts.OnChange,
		logger:   logger,
	}
}

// Kind returns the kind this collection mirrors.
func (c *Collection) Kind() model.Kind {
	return c.policy.Kind
}

// LoadSnapshot replaces the contents with a fresh remote query. On failure the
// previous records are kept and the error is recorded and returned. A result
// arriving after Close, or after a newer load started, is discarded.
func (c *Collection) LoadSnapshot(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.loader == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: no loader configured", c.policy.Kind)
	}
	if c.state == Ready {
		c.pending = nil
	}
	c.loadSeq++
	seq := c.loadSeq
	c.state = Loading
	loader := c.loader
	c.mu.Unlock()
	c.notify()

	rows, err := loader(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if seq != c.loadSeq {
		// superseded; the newer load owns the state transition
		c.mu.Unlock()
		return nil
	}
	c.lastUpdated = time.Now()
	if err != nil {
		c.state = Ready
		c.pending = nil
		c.lastErr = err
		c.failures++
		c.mu.Unlock()
		c.logger.Printf("%s snapshot load failed: %v", c.policy.Kind, err)
		c.notify()
		return fmt.Errorf("load %s: %w", c.policy.Kind, err)
	}

	c.records = c.normalize(rows)
	for _, ev := range c.pending {
		_, _ = c.applyLocked(ev)
	}
	c.pending = nil
	c.state = Ready
	c.lastErr = nil
	c.failures = 0
	again := c.staleSeq == seq
	c.mu.Unlock()
	c.notify()
	if again {
		c.logger.Printf("%s: change arrived during load, reloading", c.policy.Kind)
		return c.LoadSnapshot(ctx)
	}
	return nil
}

// Apply folds one change event into the collection. Unknown events trigger a
// full reload. Malformed events are dropped and also trigger a reload.
// Events are discarded while the collection is paused.
func (c *Collection) Apply(ctx context.Context, ev model.Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.paused {
		c.mu.Unlock()
		return nil
	}

	if unknown, ok := ev.(model.Unknown); ok {
		loading := c.state == Loading
		if loading {
			c.staleSeq = c.loadSeq
		}
		c.mu.Unlock()
		if loading {
			c.logger.Printf("%s: unrecognized change %q during load, reload queued", c.policy.Kind, unknown.Type)
			return nil
		}
		c.logger.Printf("%s: unrecognized change %q, reloading", c.policy.Kind, unknown.Type)
		return c.LoadSnapshot(ctx)
	}

	changed, err := c.applyLocked(ev)
	if err == nil && c.state != Ready {
		c.pending = append(c.pending, ev)
	}
	reload := err != nil && c.state == Ready
	if err != nil && c.state == Loading {
		c.staleSeq = c.loadSeq
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
	if err != nil {
		c.logger.Printf("%s: dropped %s event: %v", c.policy.Kind, model.Operation(ev), err)
		if reload {
			if loadErr := c.LoadSnapshot(ctx); loadErr != nil {
				return errors.Join(err, loadErr)
			}
		}
		return err
	}
	return nil
}

// Mutate patches a held record locally and returns the values the touched
// fields had before. ok is false when the record is not present.
func (c *Collection) Mutate(id string, fields model.Record) (prior model.Record, ok bool) {
	c.mu.Lock()
	idx := c.indexOf(id)
	if c.closed || idx < 0 {
		c.mu.Unlock()
		return nil, false
	}
	current := c.records[idx]
	prior = make(model.Record, len(fields))
	for k := range fields {
		if v, present := current[k]; present {
			prior[k] = v
		}
	}
	merged, changed := current.Merge(fields)
	c.records[idx] = merged
	if c.policy.touchesOrder(changed) && !c.policy.PrependInserts {
		c.sortLocked()
	}
	c.mu.Unlock()
	if len(changed) > 0 {
		c.notify()
	}
	return prior, true
}

// Restore undoes a Mutate. Each field is reverted only while it still holds
// the value written by the patch, so newer remote changes win.
func (c *Collection) Restore(id string, applied, prior model.Record) bool {
	c.mu.Lock()
	idx := c.indexOf(id)
	if c.closed || idx < 0 {
		c.mu.Unlock()
		return false
	}
	reverted := c.records[idx].Clone()
	touched := false
	for k, v := range applied {
		if !reflect.DeepEqual(reverted[k], v) {
			continue
		}
		if old, present := prior[k]; present {
			reverted[k] = old
		} else {
			delete(reverted, k)
		}
		touched = true
	}
	if touched {
		c.records[idx] = reverted
		if !c.policy.PrependInserts {
			c.sortLocked()
		}
	}
	c.mu.Unlock()
	if touched {
		c.notify()
	}
	return touched
}

// Pause stops applying events while keeping the last known records.
func (c *Collection) Pause() {
	c.mu.Lock()
	changed := !c.paused && !c.closed
	c.paused = true
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Resume re-enables events and reloads once to cover anything missed.
func (c *Collection) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.paused = false
	c.mu.Unlock()
	return c.LoadSnapshot(ctx)
}

// Close discards the collection. It is safe to call more than once.
func (c *Collection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.loadSeq++
	c.records = nil
	c.pending = nil
	c.mu.Unlock()
	c.notify()
}

// Get returns a copy of the record with the given id.
func (c *Collection) Get(id string) (model.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return c.records[idx].Clone(), true
}

// Len returns the number of records held.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Snapshot returns a copy of the current state.
func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Kind:                c.policy.Kind,
		State:               c.state,
		Paused:              c.paused,
		Closed:              c.closed,
		LastUpdated:         c.lastUpdated,
		ConsecutiveFailures: c.failures,
	}
	if len(c.records) > 0 {
		snap.Records = make([]model.Record, len(c.records))
		for i, r := range c.records {
			snap.Records[i] = r.Clone()
		}
	}
	if c.lastErr != nil {
		snap.LastError = fmt.Errorf("%w", c.lastErr)
	}
	return snap
}

func (c *Collection) applyLocked(ev model.Event) (bool, error) {
	switch e := ev.(type) {
	case model.Insert:
		id := e.Record.ID()
		if id == "" {
			return false, fmt.Errorf("%w: insert without id", ErrMalformed)
		}
		if !c.admits(e.Record) {
			return false, nil
		}
		if idx := c.indexOf(id); idx >= 0 {
			return c.mergeAt(idx, e.Record), nil
		}
		rec := e.Record.Clone()
		if c.policy.PrependInserts {
			c.records = slices.Insert(c.records, 0, rec)
		} else {
			c.records = append(c.records, rec)
			c.sortLocked()
		}
		return true, nil

	case model.Update:
		if e.ID == "" {
			return false, fmt.Errorf("%w: update without id", ErrMalformed)
		}
		if len(e.Fields) == 0 {
			return false, fmt.Errorf("%w: update %s without fields", ErrMalformed, e.ID)
		}
		idx := c.indexOf(e.ID)
		if idx < 0 {
			return false, nil
		}
		return c.mergeAt(idx, e.Fields), nil

	case model.Delete:
		if e.ID == "" {
			return false, fmt.Errorf("%w: delete without id", ErrMalformed)
		}
		idx := c.indexOf(e.ID)
		if idx < 0 {
			return false, nil
		}
		c.records = slices.Delete(c.records, idx, idx+1)
		return true, nil

	default:
		return false, fmt.Errorf("%w: unsupported event %T", ErrMalformed, ev)
	}
}

// mergeAt overlays fields on the record at idx. A merge that would move the
// record out of the visibility scope is ignored.
func (c *Collection) mergeAt(idx int, fields model.Record) bool {
	merged, changed := c.records[idx].Merge(fields)
	if len(changed) == 0 || !c.admits(merged) {
		return false
	}
	c.records[idx] = merged
	if !c.policy.PrependInserts && c.policy.touchesOrder(changed) {
		c.sortLocked()
	}
	return true
}

func (c *Collection) normalize(rows []model.Record) []model.Record {
	out := make([]model.Record, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		id := row.ID()
		if id == "" {
			c.logger.Printf("%s: skipping snapshot row without id", c.policy.Kind)
			continue
		}
		if !c.admits(row) {
			continue
		}
		if at, dup := seen[id]; dup {
			out[at] = row.Clone()
			continue
		}
		seen[id] = len(out)
		out = append(out, row.Clone())
	}
	slices.SortStableFunc(out, c.policy.compare)
	return out
}

func (c *Collection) sortLocked() {
	slices.SortStableFunc(c.records, c.policy.compare)
}

func (c *Collection) admits(r model.Record) bool {
	return c.visible == nil || c.visible(r)
}

func (c *Collection) indexOf(id string) int {
	for i, r := range c.records {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func (c *Collection) notify() {
	if c.onChange != nil {
		c.onChange(c.policy.Kind)
	}
}
