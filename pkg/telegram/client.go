// HookClaw - Telegram webhook gateway
// License: MIT

// Package telegram is the outbound side of the bot: sending and replying to
// messages, looking up chat members and registering the webhook.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/zhaopengme/hookclaw/pkg/config"
	"github.com/zhaopengme/hookclaw/pkg/logger"
)

// Telegram rejects messages over 4096 characters.
const maxMessageLength = 4000

// AllUpdateTypes is passed to setWebhook so every update kind is delivered.
var AllUpdateTypes = []string{
	"message",
	"edited_message",
	"channel_post",
	"edited_channel_post",
	"business_connection",
	"business_message",
	"edited_business_message",
	"deleted_business_messages",
	"message_reaction",
	"message_reaction_count",
	"inline_query",
	"chosen_inline_result",
	"callback_query",
	"shipping_query",
	"pre_checkout_query",
	"poll",
	"poll_answer",
	"my_chat_member",
	"chat_member",
	"chat_join_request",
	"chat_boost",
	"removed_chat_boost",
}

var ErrEmptyMessage = errors.New("message text is empty")

// Member is the subset of a chat member the handlers need.
type Member struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Status    string
}

func (m Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// MentionHTML links to the member by id, so it works without a username.
func (m Member) MentionHTML() string {
	name := m.FullName()
	if name == "" {
		name = m.Username
	}
	if name == "" {
		name = strconv.FormatInt(m.UserID, 10)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, m.UserID, html.EscapeString(name))
}

type Client struct {
	bot *telego.Bot
}

// NewClient creates a bot client. extra options are applied after the ones
// derived from cfg.
func NewClient(cfg config.TelegramConfig, extra ...telego.BotOption) (*Client, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	} else if os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" {
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}))
	}
	opts = append(opts, extra...)

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Client{bot: bot}, nil
}

// SendMessage sends text to chatID, split into several messages when it is
// too long. If Telegram rejects the markup the chunk is resent as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	return c.send(ctx, chatID, 0, text, parseMode)
}

// Reply answers messageID; only the first chunk is attached to it.
func (c *Client) Reply(ctx context.Context, chatID int64, messageID int, text, parseMode string) error {
	return c.send(ctx, chatID, messageID, text, parseMode)
}

func (c *Client) send(ctx context.Context, chatID int64, replyTo int, text, parseMode string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	var lastErr error
	for i, chunk := range splitLines(text, maxMessageLength) {
		params := &telego.SendMessageParams{
			ChatID:    tu.ID(chatID),
			Text:      chunk,
			ParseMode: parseMode,
		}
		if replyTo != 0 && i == 0 {
			params.ReplyParameters = &telego.ReplyParameters{
				MessageID:                replyTo,
				AllowSendingWithoutReply: true,
			}
		}

		_, err := c.bot.SendMessage(ctx, params)
		if err != nil && parseMode != "" {
			logger.WarnCF("telegram", "Formatted send failed, falling back to plain text", map[string]interface{}{
				"chat_id":     chatID,
				"chunk_index": i,
				"error":       err.Error(),
			})
			params.ParseMode = ""
			_, err = c.bot.SendMessage(ctx, params)
		}
		if err != nil {
			lastErr = fmt.Errorf("send message to %d: %w", chatID, err)
		}
	}
	return lastErr
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (Member, error) {
	m, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	if err != nil {
		return Member{}, fmt.Errorf("get chat member %d in %d: %w", userID, chatID, err)
	}

	user := m.MemberUser()
	return Member{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Status:    m.MemberStatus(),
	}, nil
}

// SetWebhook points Telegram at webhookURL for every update type.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	err := c.bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:            webhookURL,
		AllowedUpdates: AllUpdateTypes,
	})
	if err != nil {
		return fmt.Errorf("set webhook %s: %w", webhookURL, err)
	}
	logger.InfoCF("telegram", "Webhook registered", map[string]interface{}{
		"url": webhookURL,
	})
	return nil
}

// splitLines cuts text into chunks of at most max bytes, preferring line
// boundaries. A single longer line is cut on a rune boundary.
func splitLines(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > max {
			flush()
			cut := max
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		extra := len(line)
		if current.Len() > 0 {
			extra++
		}
		if current.Len()+extra > max {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}
