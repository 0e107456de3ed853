// HookClaw - Telegram webhook gateway
// License: MIT

package update

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mymmrac/telego"
)

const entityBotCommand = "bot_command"

// PlatformUpdate wraps a Telegram update received on the webhook.
type PlatformUpdate struct {
	Raw telego.Update

	entity    int64
	selectors []string
}

// NewPlatformUpdate resolves the entity and selectors of raw. botUsername,
// when set, restricts "/cmd@name" commands to this bot.
func NewPlatformUpdate(raw telego.Update, botUsername string) (PlatformUpdate, error) {
	entity, ok := effectiveEntity(raw)
	if !ok {
		return PlatformUpdate{}, fmt.Errorf("%w: update %d", ErrNoEntity, raw.UpdateID)
	}

	var selectors []string
	if cmd, ok := commandOf(raw.Message, botUsername); ok {
		selectors = append(selectors, "/"+cmd)
	}
	if sub := subtypeOf(raw); sub != "" {
		selectors = append(selectors, sub)
	}

	return PlatformUpdate{Raw: raw, entity: entity, selectors: selectors}, nil
}

// ParsePlatform decodes a webhook body in the Telegram update wire format.
func ParsePlatform(body []byte, botUsername string) (PlatformUpdate, error) {
	var raw telego.Update
	if err := sonic.ConfigStd.Unmarshal(body, &raw); err != nil {
		return PlatformUpdate{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return NewPlatformUpdate(raw, botUsername)
}

func (PlatformUpdate) Kind() Kind { return KindPlatform }

func (u PlatformUpdate) EntityID() int64 { return u.entity }

func (u PlatformUpdate) Selectors() []string { return u.selectors }

// Message returns the message carried by the update, edited or not.
func (u PlatformUpdate) Message() *telego.Message {
	switch {
	case u.Raw.Message != nil:
		return u.Raw.Message
	case u.Raw.EditedMessage != nil:
		return u.Raw.EditedMessage
	case u.Raw.ChannelPost != nil:
		return u.Raw.ChannelPost
	default:
		return u.Raw.EditedChannelPost
	}
}

// Command returns the bot command of the update without the slash.
func (u PlatformUpdate) Command() (string, bool) {
	for _, s := range u.selectors {
		if strings.HasPrefix(s, "/") {
			return strings.TrimPrefix(s, "/"), true
		}
	}
	return "", false
}

func subtypeOf(raw telego.Update) string {
	switch {
	case raw.Message != nil:
		return "message"
	case raw.EditedMessage != nil:
		return "edited_message"
	case raw.ChannelPost != nil:
		return "channel_post"
	case raw.EditedChannelPost != nil:
		return "edited_channel_post"
	case raw.CallbackQuery != nil:
		return "callback_query"
	case raw.InlineQuery != nil:
		return "inline_query"
	case raw.MyChatMember != nil:
		return "my_chat_member"
	case raw.ChatMember != nil:
		return "chat_member"
	case raw.ChatJoinRequest != nil:
		return "chat_join_request"
	}
	return ""
}

// effectiveEntity prefers the acting user and falls back to the chat, which
// is all a channel post carries.
func effectiveEntity(raw telego.Update) (int64, bool) {
	for _, msg := range []*telego.Message{raw.Message, raw.EditedMessage, raw.ChannelPost, raw.EditedChannelPost} {
		if msg == nil {
			continue
		}
		if msg.From != nil && msg.From.ID != 0 {
			return msg.From.ID, true
		}
		if msg.Chat.ID != 0 {
			return msg.Chat.ID, true
		}
	}

	switch {
	case raw.CallbackQuery != nil && raw.CallbackQuery.From.ID != 0:
		return raw.CallbackQuery.From.ID, true
	case raw.InlineQuery != nil && raw.InlineQuery.From.ID != 0:
		return raw.InlineQuery.From.ID, true
	case raw.MyChatMember != nil:
		return memberEntity(raw.MyChatMember)
	case raw.ChatMember != nil:
		return memberEntity(raw.ChatMember)
	case raw.ChatJoinRequest != nil:
		if raw.ChatJoinRequest.From.ID != 0 {
			return raw.ChatJoinRequest.From.ID, true
		}
		if raw.ChatJoinRequest.Chat.ID != 0 {
			return raw.ChatJoinRequest.Chat.ID, true
		}
	}
	return 0, false
}

func memberEntity(u *telego.ChatMemberUpdated) (int64, bool) {
	if u.From.ID != 0 {
		return u.From.ID, true
	}
	if u.Chat.ID != 0 {
		return u.Chat.ID, true
	}
	return 0, false
}

// commandOf reports the lower-cased command when the message opens with a
// bot_command entity.
func commandOf(msg *telego.Message, botUsername string) (string, bool) {
	if msg == nil || msg.Text == "" {
		return "", false
	}

	var entity *telego.MessageEntity
	for i := range msg.Entities {
		if msg.Entities[i].Type == entityBotCommand && msg.Entities[i].Offset == 0 {
			entity = &msg.Entities[i]
			break
		}
	}
	if entity == nil || entity.Length <= 0 {
		return "", false
	}

	// offsets are UTF-16 units; a command is ASCII so bytes line up
	end := entity.Length
	if end > len(msg.Text) {
		end = len(msg.Text)
	}
	token := strings.TrimPrefix(msg.Text[:end], "/")

	name, target, addressed := strings.Cut(token, "@")
	if addressed && botUsername != "" && !strings.EqualFold(target, strings.TrimPrefix(botUsername, "@")) {
		return "", false
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}
