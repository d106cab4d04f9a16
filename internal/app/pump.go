package app

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/five82/clanhub/internal/collection"
	"github.com/five82/clanhub/internal/feed"
	"github.com/five82/clanhub/internal/model"
)

// ChangeSource is the realtime side of the pump. *feed.Client implements it.
type ChangeSource interface {
	Changes() <-chan feed.Change
	States() <-chan feed.ConnState
}

// ChangeSink receives what the pump reads. *state.Hub implements it.
type ChangeSink interface {
	Apply(ctx context.Context, kind model.Kind, ev model.Event) error
	Pause()
	Resume(ctx context.Context) error
}

var _ ChangeSource = (*feed.Client)(nil)

// Pump routes feed changes into a sink, pauses it while the connection is
// down and resynchronizes it each time the channels are joined.
type Pump struct {
	sink   ChangeSink
	src    ChangeSource
	logger *log.Logger
	online atomic.Bool
	done   chan struct{}
}

// StartPump launches the pump goroutine. It exits on ctx cancellation or when
// both source channels are closed.
func StartPump(ctx context.Context, sink ChangeSink, src ChangeSource, logger *log.Logger) *Pump {
	if logger == nil {
		logger = log.Default()
	}
	p := &Pump{sink: sink, src: src, logger: logger, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer p.online.Store(false)
		p.run(ctx)
	}()
	return p
}

// Done is closed when the pump goroutine exits.
func (p *Pump) Done() <-chan struct{} { return p.done }

// Online reports whether the last connection state seen was connected.
func (p *Pump) Online() bool { return p.online.Load() }

func (p *Pump) run(ctx context.Context) {
	sink, logger := p.sink, p.logger
	changes := p.src.Changes()
	states := p.src.States()
	for changes != nil || states != nil {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if err := sink.Apply(ctx, ch.Table, ch.Event); err != nil {
				if errors.Is(err, collection.ErrClosed) {
					return
				}
				logger.Printf("apply %s %s: %v", ch.Table, model.Operation(ch.Event), err)
			}
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			p.online.Store(st != feed.Disconnected)
			switch st {
			case feed.Disconnected:
				logger.Printf("realtime disconnected; pausing collections")
				sink.Pause()
			case feed.Connected, feed.Reconnected:
				// A load that finished before the channels were joined may
				// predate changes the feed will never replay.
				logger.Printf("realtime %s; resynchronizing", st)
				if err := sink.Resume(ctx); err != nil {
					if errors.Is(err, collection.ErrClosed) {
						return
					}
					logger.Printf("resync after %s: %v", st, err)
				}
			}
		}
	}
}
