package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierEventFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"emergency", "forced_close"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "rebalance_executed", "ignored", "m"))
	require.NoError(t, n.Notify(context.Background(), "emergency", "delivered", "m"))

	assert.Equal(t, []string{"delivered"}, sender.titles)
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "a", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("webhook down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1, "one sender failing must not block the others")
}

func TestNotifierNoSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestTelegramSenderPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &TelegramSender{
		token:   "tok123",
		chatID:  "chat-1",
		baseURL: srv.URL,
		client:  &http.Client{Timeout: time.Second},
	}

	require.NoError(t, sender.Send(context.Background(), "Hedge rebalanced", "pos-1 details"))
	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Equal(t, "*Hedge rebalanced*\npos-1 details", got["text"])
	assert.Equal(t, "telegram", sender.Name())
}

func TestDiscordSenderPayloadAndErrors(t *testing.T) {
	var got map[string]string
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Emergency rebalance", "pos-1"))
	assert.Equal(t, "**Emergency rebalance**\npos-1", got["content"])
	assert.Equal(t, "discord", sender.Name())

	status = http.StatusTooManyRequests
	assert.Error(t, sender.Send(context.Background(), "t", "m"))
}
