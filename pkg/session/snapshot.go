// HookClaw - Telegram webhook gateway
// License: MIT

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/zhaopengme/hookclaw/pkg/logger"
)

// Snapshotter periodically writes every context to disk on a cron schedule.
type Snapshotter struct {
	store *Store
	expr  string
	now   func() time.Time
}

func NewSnapshotter(store *Store, expr string) (*Snapshotter, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid snapshot schedule %q", expr)
	}
	return &Snapshotter{store: store, expr: expr, now: time.Now}, nil
}

// Run blocks until ctx is done. It is a no-op for in-memory stores.
func (s *Snapshotter) Run(ctx context.Context) error {
	if !s.store.Persistent() {
		return nil
	}

	logger.InfoCF("session", "Context snapshots scheduled", map[string]interface{}{
		"schedule": s.expr,
	})

	for {
		next, err := gronx.NextTickAfter(s.expr, s.now(), false)
		if err != nil {
			return fmt.Errorf("next snapshot tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.store.SaveAll(); err != nil {
			logger.ErrorCF("session", "Context snapshot failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		logger.DebugCF("session", "Contexts snapshotted", map[string]interface{}{
			"count": s.store.Len(),
		})
	}
}
