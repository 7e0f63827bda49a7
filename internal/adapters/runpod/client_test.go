package runpod

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRunPod serves /run, /runsync and /status/{id} for a single endpoint.
type fakeRunPod struct {
	t *testing.T

	mu       sync.Mutex
	submits  int
	polls    int
	inputs   []map[string]any
	paths    []string
	auth     []string
	statuses []string
	final    string

	submitStatus int
	submitBody   string
	onPoll       func(n int)
}

func newFakeRunPod(t *testing.T) (*fakeRunPod, *httptest.Server) {
	t.Helper()
	f := &fakeRunPod{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/ep/run", f.handleSubmit)
	mux.HandleFunc("/v2/ep/runsync", f.handleSubmit)
	mux.HandleFunc("/v2/ep-lora/run", f.handleSubmit)
	mux.HandleFunc("/v2/ep/status/", f.handleStatus)
	mux.HandleFunc("/v2/ep/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jobs":{"completed":1},"workers":{"idle":1}}`)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
		case strings.HasSuffix(r.URL.Path, ".wav"):
			w.Header().Set("Content-Type", "audio/wav")
		case strings.HasSuffix(r.URL.Path, "missing.mp4"):
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "media:"+r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRunPod) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input map[string]any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.t.Errorf("decode submit body: %v", err)
	}
	f.mu.Lock()
	f.submits++
	f.inputs = append(f.inputs, body.Input)
	f.paths = append(f.paths, r.URL.Path)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	status, respBody := f.submitStatus, f.submitBody
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if respBody == "" {
		respBody = `{"id":"job-1","status":"IN_QUEUE"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, respBody)
}

func (f *fakeRunPod) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	body := f.final
	if n <= len(f.statuses) {
		body = `{"id":"job-1","status":"` + f.statuses[n-1] + `"}`
	}
	onPoll := f.onPoll
	f.mu.Unlock()

	if onPoll != nil {
		onPoll(n)
	}
	if body == "" {
		body = `{"id":"job-1","status":"IN_PROGRESS"}`
	}
	if strings.HasPrefix(body, "!") {
		http.Error(w, body[1:], http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (f *fakeRunPod) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.polls
}

func fastPolicy(attempts int) PollPolicy {
	return PollPolicy{MaxAttempts: attempts, Interval: time.Millisecond}
}

func TestWaitPollsUntilCompleted(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.statuses = []string{"IN_QUEUE", "IN_PROGRESS", "IN_PROGRESS"}
	fake.final = `{"id":"job-1","status":"COMPLETED","output":{"image_url":"https://cdn.example/out.png"},"delayTime":120,"executionTime":4500}`

	client := NewClient(ClientOptions{APIKey: "rp-key", HTTPClient: srv.Client()})
	job, err := client.Wait(context.Background(), srv.URL+"/v2/ep", map[string]any{"prompt": "x"}, fastPolicy(10), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, job.Status)
	require.Equal(t, 120*time.Millisecond, job.DelayTime)
	require.Equal(t, 4500*time.Millisecond, job.ExecutionTime)

	submits, polls := fake.counts()
	require.Equal(t, 1, submits)
	require.Equal(t, 4, polls)
	require.Equal(t, "/v2/ep/run", fake.paths[0])
	require.Equal(t, "Bearer rp-key", fake.auth[0])
	require.Equal(t, "x", fake.inputs[0]["prompt"])
}

func TestPollTimesOut(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	_, err := client.Wait(context.Background(), srv.URL+"/v2/ep", map[string]any{}, fastPolicy(3), nil)
	require.True(t, errors.Is(err, ErrTimeout))
	require.Contains(t, err.Error(), "after 3 attempts")

	_, polls := fake.counts()
	require.Equal(t, 3, polls)
}

func TestSubmitCancelledBeforeRequest(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Wait(ctx, srv.URL+"/v2/ep", map[string]any{}, fastPolicy(3), nil)
	require.True(t, errors.Is(err, ErrCancelled))

	submits, polls := fake.counts()
	require.Zero(t, submits)
	require.Zero(t, polls)
}

func TestPollCancelledMidway(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.onPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	_, err := client.Wait(ctx, srv.URL+"/v2/ep", map[string]any{}, PollPolicy{MaxAttempts: 50, Interval: 5 * time.Millisecond}, nil)
	require.True(t, errors.Is(err, ErrCancelled))
	require.True(t, errors.Is(err, context.Canceled))

	_, polls := fake.counts()
	require.Equal(t, 2, polls)
}

func TestRunSyncShortCircuitsPolling(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.submitBody = `{"id":"sync-1","status":"COMPLETED","output":"https://cdn.example/x.mp4"}`
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	job, err := client.Wait(context.Background(), srv.URL+"/v2/ep/runsync", map[string]any{}, fastPolicy(3), nil)
	require.NoError(t, err)
	require.Equal(t, "sync-1", job.ID)

	submits, polls := fake.counts()
	require.Equal(t, 1, submits)
	require.Zero(t, polls)
	require.Equal(t, "/v2/ep/runsync", fake.paths[0])
}

func TestRunSyncPendingFallsBackToPolling(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.submitBody = `{"id":"job-1","status":"IN_PROGRESS"}`
	fake.final = `{"id":"job-1","status":"COMPLETED","output":{"url":"https://cdn.example/x.png"}}`
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	_, err := client.Wait(context.Background(), srv.URL+"/v2/ep/runsync", map[string]any{}, fastPolicy(3), nil)
	require.NoError(t, err)
	_, polls := fake.counts()
	require.Equal(t, 1, polls)
}

func TestSubmitErrorUnwrapsNestedMessage(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.submitStatus = http.StatusBadRequest
	fake.submitBody = `{"error":"{\"detail\":\"input.size must be one of 1024*1024\"}"}`
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	_, err := client.Submit(context.Background(), srv.URL+"/v2/ep", map[string]any{}, nil)
	require.True(t, errors.Is(err, ErrSubmission))
	require.Equal(t, "runpod api error 400: input.size must be one of 1024*1024", err.Error())
}

func TestFailedJobReportsRemoteError(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = `{"id":"job-1","status":"FAILED","error":"GPU out of memory"}`
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	job, err := client.Wait(context.Background(), srv.URL+"/v2/ep", map[string]any{}, fastPolicy(3), nil)
	require.True(t, errors.Is(err, ErrJobFailed))
	require.Equal(t, "GPU out of memory", err.Error())
	require.Equal(t, StatusFailed, job.Status)

	fake.final = `{"id":"job-1","status":"FAILED"}`
	_, err = client.Wait(context.Background(), srv.URL+"/v2/ep", map[string]any{}, fastPolicy(3), nil)
	require.Equal(t, "Unknown error", err.Error())
}

func TestStatusFailureIsNotRetried(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = "!worker pool unavailable"
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	_, err := client.Wait(context.Background(), srv.URL+"/v2/ep", map[string]any{}, fastPolicy(5), nil)
	require.Error(t, err)
	require.Equal(t, KindSubmission, KindOf(err))
	require.Contains(t, err.Error(), "worker pool unavailable")

	_, polls := fake.counts()
	require.Equal(t, 1, polls)
}

func TestMaterialize(t *testing.T) {
	_, srv := newFakeRunPod(t)
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})

	data, err := client.Materialize(context.Background(), Result{Locator: LocatorURL, URL: srv.URL + "/cdn/out.png"})
	require.NoError(t, err)
	require.Equal(t, "media:/cdn/out.png", string(data))

	inline := []byte("inline-bytes")
	data, err = client.Materialize(context.Background(), Result{Locator: LocatorInline, Data: inline})
	require.NoError(t, err)
	require.Equal(t, inline, data)

	_, err = client.Materialize(context.Background(), Result{Locator: LocatorURL, URL: srv.URL + "/cdn/missing.mp4"})
	require.True(t, errors.Is(err, ErrDownload))
}

func TestMaterializeEnforcesSizeCap(t *testing.T) {
	_, srv := newFakeRunPod(t)
	client := NewClient(ClientOptions{HTTPClient: srv.Client(), MaxDownloadBytes: 4})

	_, err := client.Materialize(context.Background(), Result{Locator: LocatorURL, URL: srv.URL + "/cdn/out.png"})
	require.True(t, errors.Is(err, ErrDownload))
}

func TestHealth(t *testing.T) {
	_, srv := newFakeRunPod(t)
	client := NewClient(ClientOptions{HTTPClient: srv.Client()})
	require.NoError(t, client.Health(context.Background(), srv.URL+"/v2/ep/runsync"))
	require.Error(t, client.Health(context.Background(), srv.URL+"/v2/unknown"))
}

func TestSleepContextReturnsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		time.Sleep(5 * time.Millisecond)
		done.Store(true)
		cancel()
	}()
	start := time.Now()
	err := sleepContext(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, done.Load())
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestSubmitURLSelection(t *testing.T) {
	require.Equal(t, "https://api.runpod.ai/v2/ep/run", submitURL("https://api.runpod.ai/v2/ep"))
	require.Equal(t, "https://api.runpod.ai/v2/ep/run", submitURL("https://api.runpod.ai/v2/ep/"))
	require.Equal(t, "https://api.runpod.ai/v2/ep/runsync", submitURL("https://api.runpod.ai/v2/ep/runsync"))
	require.Equal(t, "https://api.runpod.ai/v2/ep/run", submitURL("https://api.runpod.ai/v2/ep/run"))
	require.Equal(t, "https://api.runpod.ai/v2/ep/status/a%2Fb", statusURL("https://api.runpod.ai/v2/ep/runsync", "a/b"))
}
