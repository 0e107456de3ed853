// HookClaw - Telegram webhook gateway
// License: MIT

package gateway

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/zhaopengme/hookclaw/pkg/session"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

const payloadsKey = "payloads"

// handlePayload records a submitted payload on the user's context and
// reports the full history to the admin chat.
func (g *Gateway) handlePayload(ctx context.Context, u update.CustomUpdate, c *session.Context) error {
	member, err := g.messenger.GetChatMember(ctx, u.UserID, u.UserID)
	if err != nil {
		return err
	}

	payloads := append(session.Strings(c.UserData, payloadsKey), u.Payload)
	c.UserData[payloadsKey] = payloads

	return g.messenger.SendMessage(ctx, g.cfg.AdminChatID, payloadReport(member.MentionHTML(), payloads), telego.ModeHTML)
}

func payloadReport(mention string, payloads []string) string {
	escaped := make([]string, len(payloads))
	for i, p := range payloads {
		escaped[i] = html.EscapeString(p)
	}
	return fmt.Sprintf(
		"The user %s has sent a new payload. So far they have sent the following payloads: \n\n• <code>%s</code>",
		mention, strings.Join(escaped, "</code>\n• <code>"),
	)
}
