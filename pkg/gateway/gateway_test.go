// HookClaw - Telegram webhook gateway
// License: MIT

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaopengme/hookclaw/pkg/config"
	"github.com/zhaopengme/hookclaw/pkg/session"
	"github.com/zhaopengme/hookclaw/pkg/telegram"
	"github.com/zhaopengme/hookclaw/pkg/update"
)

type sent struct {
	ChatID    int64
	ReplyTo   int
	Text      string
	ParseMode string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sent
	webhooks []string
	members  map[int64]telegram.Member
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{members: make(map[int64]telegram.Member)}
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, Text: text, ParseMode: parseMode})
	return nil
}

func (f *fakeMessenger) Reply(_ context.Context, chatID int64, messageID int, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, ReplyTo: messageID, Text: text, ParseMode: parseMode})
	return nil
}

func (f *fakeMessenger) GetChatMember(_ context.Context, chatID, userID int64) (telegram.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok || chatID != userID {
		return telegram.Member{}, errors.New("Bad Request: chat not found")
	}
	return m, nil
}

func (f *fakeMessenger) SetWebhook(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, url)
	return nil
}

func (f *fakeMessenger) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type observed struct {
	mu   sync.Mutex
	errs []error
}

func (o *observed) observe(_ update.Envelope, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *observed) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.errs)
}

func (o *observed) errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

type harness struct {
	gw        *Gateway
	messenger *fakeMessenger
	obs       *observed
	baseURL   string
	stop      func() error
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Telegram.Token = "test"
	cfg.AdminChatID = 1000
	cfg.PublicURL = "https://bot.example.com"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startGateway(t *testing.T, cfg *config.Config) *harness {
	t.Helper()

	h := &harness{messenger: newFakeMessenger(), obs: &observed{}}
	h.messenger.members[42] = telegram.Member{UserID: 42, FirstName: "Ada"}

	gw, err := New(cfg, h.messenger, WithObserver(h.obs.observe))
	require.NoError(t, err)
	h.gw = gw

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h.baseURL = "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	var once sync.Once
	var stopErr error
	h.stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case stopErr = <-done:
			case <-time.After(5 * time.Second):
				stopErr = errors.New("gateway did not stop")
			}
		})
		return stopErr
	}
	t.Cleanup(func() { assert.NoError(t, h.stop()) })
	return h
}

func (h *harness) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(h.baseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (h *harness) submit(t *testing.T, userID, payload string) int {
	t.Helper()
	code, _ := h.get(t, "/submitpayload?user_id="+url.QueryEscape(userID)+"&payload="+url.QueryEscape(payload))
	return code
}

func TestGatewayRegistersWebhook(t *testing.T) {
	h := startGateway(t, testConfig())
	require.NoError(t, h.stop())

	assert.Equal(t, []string{"https://bot.example.com/telegram"}, h.messenger.webhooks)
}

func TestGatewaySkipWebhook(t *testing.T) {
	cfg := testConfig()
	cfg.SkipWebhook = true
	h := startGateway(t, cfg)
	require.NoError(t, h.stop())

	assert.Empty(t, h.messenger.webhooks)
}

func TestPayloadsAccumulateInOrder(t *testing.T) {
	h := startGateway(t, testConfig())

	payloads := []string{"first", "<b>second</b>", "third & last"}
	for _, p := range payloads {
		require.Equal(t, http.StatusOK, h.submit(t, "42", p))
	}

	require.Eventually(t, func() bool { return h.obs.count() == len(payloads) }, 2*time.Second, 10*time.Millisecond)
	for _, err := range h.obs.errors() {
		assert.NoError(t, err)
	}

	c, ok := h.gw.store.Get(42)
	require.True(t, ok)
	assert.Equal(t, payloads, session.Strings(c.UserData, payloadsKey))

	msgs := h.messenger.messages()
	require.Len(t, msgs, len(payloads))
	last := msgs[len(msgs)-1]
	assert.Equal(t, int64(1000), last.ChatID)
	assert.Equal(t, "HTML", last.ParseMode)
	assert.Equal(t,
		`The user <a href="tg://user?id=42">Ada</a> has sent a new payload. So far they have sent the following payloads: `+
			"\n\n• <code>first</code>\n• <code>&lt;b&gt;second&lt;/b&gt;</code>\n• <code>third &amp; last</code>",
		last.Text)
}

func TestRejectedSubmissionsLeaveContextAlone(t *testing.T) {
	h := startGateway(t, testConfig())

	code, body := h.get(t, "/submitpayload?user_id=42")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Please pass both `user_id` and `payload` as query parameters.", strings.TrimSpace(body))

	code, body = h.get(t, "/submitpayload?user_id=abc&payload=x")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "The `user_id` must be numeric.", strings.TrimSpace(body))

	require.NoError(t, h.stop())
	assert.Equal(t, 0, h.gw.store.Len())
	assert.Empty(t, h.messenger.messages())
}

func TestFailedLookupDoesNotStopDispatch(t *testing.T) {
	h := startGateway(t, testConfig())

	require.Equal(t, http.StatusOK, h.submit(t, "666", "lost"))
	require.Equal(t, http.StatusOK, h.submit(t, "42", "kept"))

	require.Eventually(t, func() bool { return h.obs.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	errs := h.obs.errors()
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])

	msgs := h.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "<code>kept</code>")

	// lookup failed before the payload was recorded
	c, ok := h.gw.store.Get(666)
	require.True(t, ok)
	assert.Empty(t, session.Strings(c.UserData, payloadsKey))

	stats := h.gw.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestStartCommandReplies(t *testing.T) {
	h := startGateway(t, testConfig())

	body := `{"update_id":1,"message":{"message_id":5,"date":0,` +
		`"chat":{"id":10,"type":"private"},"from":{"id":10,"is_bot":false,"first_name":"Ada"},` +
		`"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`
	resp, err := http.Post(h.baseURL+"/telegram", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(h.messenger.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := h.messenger.messages()[0]
	assert.Equal(t, int64(10), msg.ChatID)
	assert.Equal(t, 5, msg.ReplyTo)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.Equal(t, startText("https://bot.example.com"), msg.Text)
}

func TestPlainMessagesAreDropped(t *testing.T) {
	h := startGateway(t, testConfig())

	body := `{"update_id":2,"message":{"message_id":6,"date":0,` +
		`"chat":{"id":10,"type":"private"},"from":{"id":10,"is_bot":false,"first_name":"Ada"},"text":"hi"}}`
	resp, err := http.Post(h.baseURL+"/telegram", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return h.obs.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.gw.Stats().Dropped)
	assert.Empty(t, h.messenger.messages())
}

func TestHealthcheck(t *testing.T) {
	h := startGateway(t, testConfig())

	code, body := h.get(t, "/healthcheck")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The bot is still running fine :)", body)
}

func TestShutdownDrainsAndSnapshots(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Storage = t.TempDir()
	h := startGateway(t, cfg)

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, h.submit(t, "42", fmt.Sprintf("p%d", i)))
	}
	require.NoError(t, h.stop())

	assert.Equal(t, 20, h.obs.count())

	reloaded := session.NewStore(cfg.Session.Storage)
	c, ok := reloaded.Get(42)
	require.True(t, ok)
	assert.Len(t, session.Strings(c.UserData, payloadsKey), 20)
}

func TestNewRejectsBadSnapshotSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Storage = t.TempDir()
	cfg.Session.SnapshotCron = "every now and then"

	_, err := New(cfg, newFakeMessenger())
	assert.Error(t, err)
}

func TestPayloadReport(t *testing.T) {
	got := payloadReport("@x", []string{"a"})
	assert.Equal(t, "The user @x has sent a new payload. So far they have sent the following payloads: \n\n• <code>a</code>", got)
}
