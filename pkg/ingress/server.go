// HookClaw - Telegram webhook gateway
// License: MIT

// Package ingress is the HTTP front of the gateway. Every route converts its
// request into an update envelope, publishes it and answers at once; nothing
// here waits for a handler to run.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/zhaopengme/hookclaw/pkg/bus"
	"github.com/zhaopengme/hookclaw/pkg/logger"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

const (
	msgMissingParameter = "Please pass both `user_id` and `payload` as query parameters."
	msgNonNumericUserID = "The `user_id` must be numeric."
	msgHealthy          = "The bot is still running fine :)"
	msgUnavailable      = "The bot is not accepting updates right now."
)

type Options struct {
	Addr            string
	BotUsername     string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

type Server struct {
	publisher  bus.Publisher
	opts       Options
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(publisher bus.Publisher, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		publisher: publisher,
		opts:      opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram", s.handleTelegram)
	mux.HandleFunc("GET /submitpayload", s.handleSubmitPayload)
	mux.HandleFunc("GET /healthcheck", s.handleHealth)

	s.handler = chain(mux, requestID, accessLog, bodyLimit(opts.MaxBodyBytes))
	return s
}

// Handler exposes the routes with their middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts the listener down and waits
// up to the shutdown timeout for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("ingress", "Webhook server listening", map[string]interface{}{
			"addr": ln.Addr().String(),
		})
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCF("ingress", "Webhook server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	logger.InfoC("ingress", "Webhook server stopped")
	return nil
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	u, err := update.ParsePlatform(body, s.opts.BotUsername)
	switch {
	case errors.Is(err, update.ErrNoEntity):
		// Telegram retries anything but 2xx, so acknowledge and drop.
		logger.WarnCF("ingress", "Platform update without user or chat, dropping", map[string]interface{}{
			"request_id": RequestIDFrom(r.Context()),
		})
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		logger.WarnCF("ingress", "Rejected platform update", map[string]interface{}{
			"request_id": RequestIDFrom(r.Context()),
			"error":      err.Error(),
		})
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	s.publish(w, r, u)
}

func (s *Server) handleSubmitPayload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, hasUserID := lookup(query, "user_id")
	payload, hasPayload := lookup(query, "payload")

	u, err := update.ParseCustom(userID, hasUserID, payload, hasPayload)
	switch {
	case errors.Is(err, update.ErrMissingParameter):
		http.Error(w, msgMissingParameter, http.StatusBadRequest)
		return
	case errors.Is(err, update.ErrNonNumericUserID):
		http.Error(w, msgNonNumericUserID, http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.publish(w, r, u)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, msgHealthy)
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request, u update.Update) {
	env, err := s.publisher.Publish(update.NewEnvelope(u))
	if err != nil {
		logger.WarnCF("ingress", "Update not accepted", map[string]interface{}{
			"request_id": RequestIDFrom(r.Context()),
			"kind":       string(u.Kind()),
			"error":      err.Error(),
		})
		if errors.Is(err, bus.ErrQueueClosed) || errors.Is(err, bus.ErrQueueFull) {
			http.Error(w, msgUnavailable, http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.DebugCF("ingress", "Update enqueued", map[string]interface{}{
		"request_id":  RequestIDFrom(r.Context()),
		"envelope_id": env.ID,
		"seq":         env.Seq,
		"kind":        string(env.Kind()),
		"entity_id":   env.EntityID(),
	})
	w.WriteHeader(http.StatusOK)
}

// lookup reports whether key was supplied at all, even with an empty value.
// A repeated key yields its last value.
func lookup(values map[string][]string, key string) (string, bool) {
	vs, ok := values[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[len(vs)-1], true
}
