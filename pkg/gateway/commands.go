// HookClaw - Telegram webhook gateway
// License: MIT

package gateway

import (
	"context"
	"fmt"
	"html"

	"github.com/mymmrac/telego"

	"github.com/zhaopengme/hookclaw/pkg/session"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

// handleStart explains how to reach the HTTP endpoints. It also answers /help.
func (g *Gateway) handleStart(ctx context.Context, u update.PlatformUpdate, _ *session.Context) error {
	msg := u.Message()
	if msg == nil {
		return nil
	}
	return g.messenger.Reply(ctx, msg.Chat.ID, msg.MessageID, startText(g.cfg.PublicURL), telego.ModeHTML)
}

func startText(publicURL string) string {
	healthURL := html.EscapeString(publicURL + "/healthcheck")
	payloadURL := html.EscapeString(publicURL + "/submitpayload?user_id=<your user id>&payload=<payload>")
	return fmt.Sprintf(
		"To check if the bot is still running, call <code>%s</code>.\n\n"+
			"To post a custom update, call <code>%s</code>.",
		healthURL, payloadURL,
	)
}
