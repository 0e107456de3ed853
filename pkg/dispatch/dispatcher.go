// HookClaw - Telegram webhook gateway
// License: MIT

// Package dispatch routes queued updates to handlers. A Dispatcher is the
// single consumer of the update queue: it handles one envelope at a time, in
// arrival order, so handlers never run concurrently with each other and
// entity contexts need no locking of their own.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zhaopengme/hookclaw/pkg/bus"
	"github.com/zhaopengme/hookclaw/pkg/logger"
	"github.com/zhaopengme/hookclaw/pkg/session"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

type State int32

const (
	StateIdle State = iota
	StateDequeuing
	StateResolving
	StateContextualizing
	StateInvoking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDequeuing:
		return "dequeuing"
	case StateResolving:
		return "resolving"
	case StateContextualizing:
		return "contextualizing"
	case StateInvoking:
		return "invoking"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Processed      int64
	Failed         int64
	Dropped        int64
	State          State
	LastActivityAt time.Time
}

// Observer is told about every envelope after it was handled. err is nil on
// success, wraps ErrHandlerNotFound for dropped envelopes, and is the handler
// error otherwise.
type Observer func(env update.Envelope, err error)

type Option func(*Dispatcher)

func WithObserver(fn Observer) Option {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

type Dispatcher struct {
	source   bus.Subscriber
	table    *Table
	store    *session.Store
	observer Observer

	started      atomic.Bool
	state        atomic.Int32
	processed    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	lastActivity atomic.Int64
}

// New freezes table; every registration must happen before this call.
func New(source bus.Subscriber, table *Table, store *session.Store, opts ...Option) *Dispatcher {
	table.Freeze()

	d := &Dispatcher{
		source: source,
		table:  table,
		store:  store,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// drained. It can be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.setState(StateStopped)

	logger.InfoCF("dispatch", "Dispatcher started", map[string]interface{}{
		"handlers": d.table.Len(),
	})

	for {
		d.setState(StateDequeuing)
		env, ok := d.source.Consume(ctx)
		if !ok {
			logger.InfoCF("dispatch", "Dispatcher stopped", map[string]interface{}{
				"processed": d.processed.Load(),
				"failed":    d.failed.Load(),
				"dropped":   d.dropped.Load(),
			})
			return nil
		}

		err := d.handle(ctx, env)
		d.lastActivity.Store(time.Now().UnixNano())
		if d.observer != nil {
			d.observer(env, err)
		}
		d.setState(StateIdle)
	}
}

func (d *Dispatcher) handle(ctx context.Context, env update.Envelope) error {
	d.setState(StateResolving)
	h, key, err := d.table.Resolve(env.Update)
	if err != nil {
		d.dropped.Add(1)
		logger.DebugCF("dispatch", "No handler for update, dropping", map[string]interface{}{
			"envelope_id": env.ID,
			"seq":         env.Seq,
			"key":         key.String(),
		})
		return err
	}

	d.setState(StateContextualizing)
	entity := env.EntityID()
	c := d.store.GetOrCreate(entity)

	d.setState(StateInvoking)
	start := time.Now()
	err = d.store.Mutate(func() error {
		return invoke(WithEnvelope(ctx, env), h, env, c)
	})
	if err != nil {
		d.failed.Add(1)
		logger.ErrorCF("dispatch", "Handler failed", map[string]interface{}{
			"envelope_id": env.ID,
			"seq":         env.Seq,
			"key":         key.String(),
			"entity_id":   entity,
			"duration":    time.Since(start).String(),
			"error":       err.Error(),
		})
		return err
	}

	d.processed.Add(1)
	logger.DebugCF("dispatch", "Update handled", map[string]interface{}{
		"envelope_id": env.ID,
		"seq":         env.Seq,
		"key":         key.String(),
		"entity_id":   entity,
		"duration":    time.Since(start).String(),
	})

	if d.store.Persistent() {
		if err := d.store.Save(entity); err != nil {
			logger.WarnCF("dispatch", "Failed to snapshot context", map[string]interface{}{
				"entity_id": entity,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// invoke shields the loop from a panicking handler.
func invoke(ctx context.Context, h HandlerFunc, env update.Envelope, c *session.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	defer c.Touch()
	return h(ctx, env.Update, c)
}

var errHandlerPanic = errors.New("handler panicked")

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) Stats() Stats {
	var last time.Time
	if ns := d.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Processed:      d.processed.Load(),
		Failed:         d.failed.Load(),
		Dropped:        d.dropped.Load(),
		State:          d.State(),
		LastActivityAt: last,
	}
}

type envelopeKey struct{}

// WithEnvelope attaches the envelope being handled to ctx.
func WithEnvelope(ctx context.Context, env update.Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFrom returns the envelope a handler was invoked for.
func EnvelopeFrom(ctx context.Context) (update.Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(update.Envelope)
	return env, ok
}
