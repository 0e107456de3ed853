// HookClaw - Telegram webhook gateway
// License: MIT

// Package gateway wires the pipeline together: the HTTP ingress publishes
// into the update queue, a single dispatcher drains it into the registered
// handlers, and the handlers talk back to Telegram.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhaopengme/hookclaw/pkg/bus"
	"github.com/zhaopengme/hookclaw/pkg/config"
	"github.com/zhaopengme/hookclaw/pkg/dispatch"
	"github.com/zhaopengme/hookclaw/pkg/ingress"
	"github.com/zhaopengme/hookclaw/pkg/logger"
	"github.com/zhaopengme/hookclaw/pkg/session"
	"github.com/zhaopengme/hookclaw/pkg/telegram"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

// Messenger is the outbound Telegram surface the handlers use.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
	Reply(ctx context.Context, chatID int64, messageID int, text, parseMode string) error
	GetChatMember(ctx context.Context, chatID, userID int64) (telegram.Member, error)
	SetWebhook(ctx context.Context, url string) error
}

var _ Messenger = (*telegram.Client)(nil)

type Option func(*options)

type options struct {
	observer dispatch.Observer
}

// WithObserver is forwarded to the dispatcher.
func WithObserver(fn dispatch.Observer) Option {
	return func(o *options) {
		o.observer = fn
	}
}

type Gateway struct {
	cfg        *config.Config
	messenger  Messenger
	queue      *bus.UpdateQueue
	store      *session.Store
	dispatcher *dispatch.Dispatcher
	server     *ingress.Server
	snapshots  *session.Snapshotter
}

func New(cfg *config.Config, messenger Messenger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{
		cfg:       cfg,
		messenger: messenger,
		queue:     bus.NewUpdateQueue(bus.WithLimit(cfg.Queue.Limit)),
		store:     session.NewStore(cfg.Session.Storage),
	}

	if g.store.Persistent() {
		snap, err := session.NewSnapshotter(g.store, cfg.Session.SnapshotCron)
		if err != nil {
			return nil, err
		}
		g.snapshots = snap
	}

	table := dispatch.NewTable()
	if err := g.registerHandlers(table); err != nil {
		return nil, err
	}

	var dispatchOpts []dispatch.Option
	if o.observer != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(o.observer))
	}
	g.dispatcher = dispatch.New(g.queue, table, g.store, dispatchOpts...)

	g.server = ingress.NewServer(g.queue, ingress.Options{
		Addr:            cfg.ListenAddr(),
		BotUsername:     cfg.Telegram.BotUsername,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	return g, nil
}

func (g *Gateway) registerHandlers(table *dispatch.Table) error {
	return errors.Join(
		table.Register(update.KindPlatform, "/start", dispatch.Typed(g.handleStart)),
		table.Register(update.KindPlatform, "/help", dispatch.Typed(g.handleStart)),
		table.Register(update.KindCustom, "", dispatch.Typed(g.handlePayload)),
	)
}

// Run registers the webhook, listens on the configured address and blocks
// until ctx is cancelled and the pipeline has shut down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.cfg.ListenAddr(), err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Shutdown happens in order: the
// server stops taking requests, the queue closes, the dispatcher drains what
// is left for at most the shutdown timeout, contexts are snapshotted.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	if !g.cfg.SkipWebhook {
		if err := g.messenger.SetWebhook(ctx, g.cfg.WebhookURL()); err != nil {
			_ = ln.Close()
			return err
		}
	}

	logger.InfoCF("gateway", "Gateway started", map[string]interface{}{
		"addr":       ln.Addr().String(),
		"queue_max":  g.cfg.Queue.Limit,
		"persistent": g.store.Persistent(),
	})

	// The dispatcher outlives ctx so it can drain the queue.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatched := make(chan struct{})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer g.queue.Close()
		return g.server.Serve(egCtx, ln)
	})
	eg.Go(func() error {
		defer close(dispatched)
		return g.dispatcher.Run(dispatchCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		timer := time.NewTimer(g.cfg.Server.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-dispatched:
		case <-timer.C:
			logger.WarnCF("gateway", "Drain timed out, dropping queued updates", map[string]interface{}{
				"pending": g.queue.Len(),
			})
			stopDispatch()
		}
		return nil
	})
	if g.snapshots != nil {
		eg.Go(func() error {
			return g.snapshots.Run(egCtx)
		})
	}

	err := eg.Wait()

	if saveErr := g.store.SaveAll(); saveErr != nil {
		logger.ErrorCF("gateway", "Failed to snapshot contexts", map[string]interface{}{
			"error": saveErr.Error(),
		})
	}

	stats := g.dispatcher.Stats()
	logger.InfoCF("gateway", "Gateway stopped", map[string]interface{}{
		"processed": stats.Processed,
		"failed":    stats.Failed,
		"dropped":   stats.Dropped,
	})
	return err
}

// Handler exposes the HTTP routes without a listener.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler()
}

func (g *Gateway) Stats() dispatch.Stats {
	return g.dispatcher.Stats()
}
