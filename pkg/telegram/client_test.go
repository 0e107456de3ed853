// HookClaw - Telegram webhook gateway
// License: MIT

package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaopengme/hookclaw/pkg/config"
)

const testToken = "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type apiCall struct {
	Method string
	Params map[string]any
}

// fakeAPI answers Bot API calls. reply picks the JSON body for each call.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	reply func(call apiCall) string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	call := apiCall{Method: path.Base(r.URL.Path)}
	_ = json.Unmarshal(body, &call.Params)

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, f.reply(call))
}

func (f *fakeAPI) recorded() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

const sentMessage = `{"ok":true,"result":{"message_id":10,"date":0,"chat":{"id":1,"type":"private"}}}`

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.TelegramConfig{Token: testToken},
		telego.WithHTTPClient(srv.Client()),
		telego.WithAPIServer(srv.URL),
		telego.WithDiscardLogger(),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidProxy(t *testing.T) {
	_, err := NewClient(config.TelegramConfig{Token: testToken, Proxy: "://bad"})
	assert.Error(t, err)
}

func TestNewClient_InvalidToken(t *testing.T) {
	_, err := NewClient(config.TelegramConfig{Token: "nope"})
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string { return sentMessage }}
	c := newTestClient(t, api)

	require.NoError(t, c.SendMessage(context.Background(), 99, "<b>hi</b>", telego.ModeHTML))

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, float64(99), calls[0].Params["chat_id"])
	assert.Equal(t, "<b>hi</b>", calls[0].Params["text"])
	assert.Equal(t, "HTML", calls[0].Params["parse_mode"])
}

func TestSendMessage_Empty(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string { return sentMessage }}
	c := newTestClient(t, api)

	assert.ErrorIs(t, c.SendMessage(context.Background(), 1, "", ""), ErrEmptyMessage)
	assert.Empty(t, api.recorded())
}

func TestSendMessage_FallsBackToPlainText(t *testing.T) {
	api := &fakeAPI{reply: func(call apiCall) string {
		if call.Params["parse_mode"] == "HTML" {
			return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
		}
		return sentMessage
	}}
	c := newTestClient(t, api)

	require.NoError(t, c.SendMessage(context.Background(), 1, "<b>broken", telego.ModeHTML))

	calls := api.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "HTML", calls[0].Params["parse_mode"])
	_, hasMode := calls[1].Params["parse_mode"]
	assert.False(t, hasMode)
}

func TestSendMessage_ReportsFailure(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string {
		return `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	}}
	c := newTestClient(t, api)

	err := c.SendMessage(context.Background(), 1, "hello", "")
	assert.Error(t, err)
	assert.Len(t, api.recorded(), 1, "plain text sends are not retried")
}

func TestReply(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string { return sentMessage }}
	c := newTestClient(t, api)

	long := strings.Repeat("x", maxMessageLength) + "\n" + "tail"
	require.NoError(t, c.Reply(context.Background(), 5, 77, long, ""))

	calls := api.recorded()
	require.Len(t, calls, 2)
	reply, ok := calls[0].Params["reply_parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(77), reply["message_id"])
	assert.NotContains(t, calls[1].Params, "reply_parameters")
	assert.Equal(t, "tail", calls[1].Params["text"])
}

func TestGetChatMember(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string {
		return `{"ok":true,"result":{"status":"member","user":{"id":42,"is_bot":false,"first_name":"Ada","last_name":"Lovelace","username":"ada"}}}`
	}}
	c := newTestClient(t, api)

	m, err := c.GetChatMember(context.Background(), 42, 42)
	require.NoError(t, err)
	assert.Equal(t, Member{UserID: 42, Username: "ada", FirstName: "Ada", LastName: "Lovelace", Status: "member"}, m)

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "getChatMember", calls[0].Method)
	assert.Equal(t, float64(42), calls[0].Params["user_id"])
}

func TestGetChatMember_Error(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string {
		return `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	}}
	c := newTestClient(t, api)

	_, err := c.GetChatMember(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestSetWebhook(t *testing.T) {
	api := &fakeAPI{reply: func(apiCall) string { return `{"ok":true,"result":true}` }}
	c := newTestClient(t, api)

	require.NoError(t, c.SetWebhook(context.Background(), "https://bot.example.com/telegram"))

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "setWebhook", calls[0].Method)
	assert.Equal(t, "https://bot.example.com/telegram", calls[0].Params["url"])
	assert.Len(t, calls[0].Params["allowed_updates"], len(AllUpdateTypes))
}

func TestMentionHTML(t *testing.T) {
	tests := []struct {
		name   string
		member Member
		want   string
	}{
		{"full name", Member{UserID: 1, FirstName: "Ada", LastName: "Lovelace"}, `<a href="tg://user?id=1">Ada Lovelace</a>`},
		{"escaped", Member{UserID: 2, FirstName: "<script>"}, `<a href="tg://user?id=2">&lt;script&gt;</a>`},
		{"username only", Member{UserID: 3, Username: "bob"}, `<a href="tg://user?id=3">bob</a>`},
		{"nothing", Member{UserID: 4}, `<a href="tg://user?id=4">4</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.member.MentionHTML())
		})
	}
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitLines("short", 10))

	chunks := splitLines("aaaa\nbbbb\ncccc", 9)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, chunks)

	chunks = splitLines(strings.Repeat("z", 25), 10)
	assert.Equal(t, []string{strings.Repeat("z", 10), strings.Repeat("z", 10), strings.Repeat("z", 5)}, chunks)

	// never cut inside a multi-byte rune
	chunks = splitLines(strings.Repeat("é", 8), 5)
	for _, c := range chunks {
		assert.True(t, len(c) <= 5)
		assert.Equal(t, 0, len(c)%2)
	}
	assert.Equal(t, strings.Repeat("é", 8), strings.Join(chunks, ""))
}
