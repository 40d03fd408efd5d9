package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/storage"
	"github.com/wootoff-monitor/internal/types"
)

func sampleEvent(id string) types.Event {
	prev := types.Snapshot{Title: "Widget A", Price: "$19.99", Status: types.StatusActive}
	return types.Event{
		ID:       id,
		Decision: types.StatusChanged,
		Snapshot: types.Snapshot{
			Title:  "Widget A",
			Price:  "$19.99",
			Status: types.StatusSoldOut,
		},
		Previous:   &prev,
		DetectedAt: time.Date(2011, 6, 1, 12, 0, 0, 0, time.UTC),
		URL:        "https://www.woot.com/",
	}
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
	err    error
	block  chan struct{}
	closed bool
}

func (r *recorder) Notify(_ context.Context, e types.Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("boom")}
	alsoOK := &recorder{}

	multi := NewMulti(metrics.NewCollector("test", prometheus.NewRegistry()))
	multi.Add("ok", ok)
	multi.Add("failing", failing)
	multi.Add("also_ok", alsoOK)

	err := multi.Notify(context.Background(), sampleEvent("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: boom")

	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, alsoOK.count())

	require.NoError(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, alsoOK.closed)
}

func TestMultiEmpty(t *testing.T) {
	assert.NoError(t, NewMulti(nil).Notify(context.Background(), sampleEvent("1")))
}

func TestAsyncNeverBlocks(t *testing.T) {
	inner := &recorder{block: make(chan struct{})}
	async := NewAsync(inner, 1, time.Second)

	start := time.Now()
	// first event is picked up by the worker and blocks there, second fills
	// the queue, the rest are dropped
	var dropped int
	for i := 0; i < 5; i++ {
		err := async.Notify(context.Background(), sampleEvent("e"))
		if errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.GreaterOrEqual(t, dropped, 3)
	assert.EqualValues(t, dropped, async.Dropped())

	close(inner.block)
	require.NoError(t, async.Close())
	assert.Equal(t, 5-dropped, inner.count())
	assert.True(t, inner.closed)

	assert.ErrorIs(t, async.Notify(context.Background(), sampleEvent("late")), ErrClosed)
}

func TestAsyncCloseDrains(t *testing.T) {
	inner := &recorder{}
	async := NewAsync(inner, 10, time.Second)

	for i := 0; i < 10; i++ {
		require.NoError(t, async.Notify(context.Background(), sampleEvent("e")))
	}
	require.NoError(t, async.Close())
	assert.Equal(t, 10, inner.count())

	// second close is a no-op
	require.NoError(t, async.Close())
}

func TestWebhookPostsPayload(t *testing.T) {
	var (
		got     WebhookPayload
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, map[string]string{"X-Token": "secret"}, time.Second)
	require.NoError(t, wh.Notify(context.Background(), sampleEvent("evt-1")))

	assert.Equal(t, "secret", headers.Get("X-Token"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "evt-1", got.Event.ID)
	assert.Equal(t, types.StatusChanged, got.Event.Decision)
	assert.Equal(t, types.StatusSoldOut, got.Event.Snapshot.Status)
	require.NotNil(t, got.Event.Previous)
	assert.Equal(t, types.StatusActive, got.Event.Previous.Status)
	assert.Equal(t, "STATUS_CHANGED (ACTIVE -> SOLD_OUT): Widget A - $19.99 [SOLD_OUT]", got.Text)
}

func TestWebhookHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, nil, time.Second).Notify(context.Background(), sampleEvent("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestEmailMessage(t *testing.T) {
	n := NewEmail(EmailOptions{
		Server:   "smtp.example.com",
		Port:     25,
		From:     "monitor@example.com",
		To:       []string{"me@example.com"},
		Password: "hunter2",
	})

	var (
		sent    *email.Email
		timeout time.Duration
	)
	n.send = func(mail *email.Email, d time.Duration) error {
		sent, timeout = mail, d
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, sampleEvent("1")))

	assert.Greater(t, timeout, time.Duration(0))
	assert.LessOrEqual(t, timeout, 2*time.Second)
	assert.Equal(t, []string{"me@example.com"}, sent.To)
	assert.True(t, strings.HasPrefix(sent.Subject, "[wootoff] STATUS_CHANGED"))
	assert.Contains(t, string(sent.Text), "Status: SOLD_OUT")
	assert.Contains(t, string(sent.Text), "Previously: Widget A - $19.99 [ACTIVE]")
}

func TestEmailStalledServerHonorsDeadline(t *testing.T) {
	n := NewEmail(EmailOptions{Server: "smtp.example.com", Port: 587, From: "a@example.com", To: []string{"b@example.com"}})

	release := make(chan struct{})
	defer close(release)
	n.send = func(*email.Email, time.Duration) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Notify(ctx, sampleEvent("1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEmailError(t *testing.T) {
	n := NewEmail(EmailOptions{Server: "smtp.example.com", Port: 587, From: "a@example.com", To: []string{"b@example.com"}})
	n.send = func(*email.Email, time.Duration) error { return errors.New("connection refused") }

	err := n.Notify(context.Background(), sampleEvent("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.NoError(t, n.Close())
}

func TestJournalNotifier(t *testing.T) {
	j, err := storage.NewFileJournal(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()

	n := NewJournal(j)
	require.NoError(t, n.Notify(context.Background(), sampleEvent("a")))
	require.NoError(t, n.Notify(context.Background(), sampleEvent("b")))

	events, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Notify
	cfg.Webhook = config.WebhookConfig{Enabled: true, URL: "http://127.0.0.1:1/hook"}
	cfg.Journal.Enabled = true

	_, err := FromConfig(cfg, nil, nil)
	require.Error(t, err)

	j, err := storage.NewFileJournal(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()

	multi, err := FromConfig(cfg, j, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"log", "webhook", "journal"}, multi.Names())
}
