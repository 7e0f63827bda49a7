package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

type stubSink struct {
	err    error
	calls  int
	events []Event
}

func (s *stubSink) Notify(ctx context.Context, event Event) error {
	s.calls++
	s.events = append(s.events, event)
	return s.err
}

func TestWebhookSinkPostsEvent(t *testing.T) {
	var received Event
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sink := NewWebhookSink(config.NotificationsConfig{Webhooks: []string{ts.URL}, Timeout: time.Second}, nil)
	event := Stamp(Event{Alias: "wan-video", Provider: "runpod", Modality: "video", JobID: "job-1", Result: "ok", Cost: "0.42"})
	require.NoError(t, sink.Notify(context.Background(), event))
	require.Equal(t, event.ID, received.ID)
	require.Equal(t, "job-1", received.JobID)
	require.Equal(t, "0.42", received.Cost)
	require.True(t, strings.HasPrefix(received.ID, "evt-"))
}

func TestWebhookSinkRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(config.NotificationsConfig{Webhooks: []string{ts.URL}, MaxRetries: 3}, nil)
	sink.backoff = time.Millisecond
	require.NoError(t, sink.Notify(context.Background(), Stamp(Event{Result: "ok"})))
	require.EqualValues(t, 2, calls.Load())
}

func TestWebhookSinkReportsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	sink := NewWebhookSink(config.NotificationsConfig{Webhooks: []string{ts.URL}, MaxRetries: 2}, nil)
	sink.backoff = time.Millisecond
	err := sink.Notify(context.Background(), Stamp(Event{Result: "job_failed"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 500")
}

func TestCompositeSinkNotify(t *testing.T) {
	okSink := &stubSink{}
	errSink := &stubSink{err: errors.New("boom")}

	sink := NewCompositeSink(okSink, errSink)
	require.Error(t, sink.Notify(context.Background(), Event{}))
	require.Equal(t, 1, okSink.calls)
	require.Equal(t, 1, errSink.calls)
}

func TestCompositeSinkSkipsNil(t *testing.T) {
	require.Nil(t, NewCompositeSink(nil))
	single := &stubSink{}
	require.Same(t, single, NewCompositeSink(nil, single).(*stubSink))
}

func TestNewDisabled(t *testing.T) {
	require.Nil(t, New(config.NotificationsConfig{}, nil))
	require.NotNil(t, New(config.NotificationsConfig{Log: true}, nil))
}
