// HookClaw - Telegram webhook gateway
// License: MIT

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhaopengme/hookclaw/pkg/session"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

// HandlerFunc handles one update in the context of its entity.
type HandlerFunc func(ctx context.Context, u update.Update, c *session.Context) error

// Key selects a handler. An empty Selector is the generic handler of a kind.
type Key struct {
	Kind     update.Kind
	Selector string
}

func (k Key) String() string {
	if k.Selector == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.Selector
}

// Table maps dispatch keys to handlers. It is filled at startup and frozen
// before the dispatcher reads it; lookups after Freeze take no lock.
type Table struct {
	mu       sync.Mutex
	handlers map[Key]HandlerFunc
	frozen   atomic.Bool
}

func NewTable() *Table {
	return &Table{handlers: make(map[Key]HandlerFunc)}
}

func (t *Table) Register(kind update.Kind, selector string, h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", Key{kind, selector})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen.Load() {
		return ErrTableFrozen
	}
	key := Key{Kind: kind, Selector: selector}
	if _, exists := t.handlers[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, key)
	}
	t.handlers[key] = h
	return nil
}

// MustRegister panics on registration errors; for startup wiring.
func (t *Table) MustRegister(kind update.Kind, selector string, h HandlerFunc) {
	if err := t.Register(kind, selector, h); err != nil {
		panic(err)
	}
}

// Freeze ends registration.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen.Store(true)
	t.mu.Unlock()
}

func (t *Table) Frozen() bool {
	return t.frozen.Load()
}

// Resolve tries the update's selectors from most to least specific, then the
// generic handler of its kind.
func (t *Table) Resolve(u update.Update) (HandlerFunc, Key, error) {
	if u == nil {
		return nil, Key{}, ErrHandlerNotFound
	}
	if !t.frozen.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}

	kind := u.Kind()
	for _, sel := range u.Selectors() {
		key := Key{Kind: kind, Selector: sel}
		if h, ok := t.handlers[key]; ok {
			return h, key, nil
		}
	}

	key := Key{Kind: kind}
	if h, ok := t.handlers[key]; ok {
		return h, key, nil
	}
	return nil, key, fmt.Errorf("%w: %s %v", ErrHandlerNotFound, kind, u.Selectors())
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Typed adapts a handler for one Update variant.
//
//	table.MustRegister(update.KindCustom, "", dispatch.Typed(func(ctx context.Context, u update.CustomUpdate, c *session.Context) error {
//	    ...
//	}))
func Typed[T update.Update](fn func(context.Context, T, *session.Context) error) HandlerFunc {
	return func(ctx context.Context, u update.Update, c *session.Context) error {
		typed, ok := u.(T)
		if !ok {
			var zero T
			return fmt.Errorf("%w: got %T, want %T", ErrUnexpectedUpdate, u, zero)
		}
		return fn(ctx, typed, c)
	}
}
