package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Status is the remote job state reported by RunPod.
type Status string

const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true once RunPod will not change the status again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

const (
	defaultMaxPollAttempts = 60
	defaultPollInterval    = 5 * time.Second
	defaultMaxDownload     = 200 << 20
)

// PollPolicy bounds how long and how often a job is checked.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Budget is the wall-clock time the policy allows.
func (p PollPolicy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxPollAttempts
	}
	if p.Interval <= 0 {
		p.Interval = defaultPollInterval
	}
	return p
}

// Job mirrors RunPod's job document.
type Job struct {
	ID            string
	Status        Status
	Output        json.RawMessage
	Error         string
	DelayTime     time.Duration
	ExecutionTime time.Duration
}

type jobResponse struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
	DelayTime     int64           `json:"delayTime"`
	ExecutionTime int64           `json:"executionTime"`
}

func (r jobResponse) toJob() Job {
	job := Job{
		ID:            r.ID,
		Status:        Status(strings.ToUpper(strings.TrimSpace(string(r.Status)))),
		Output:        r.Output,
		DelayTime:     time.Duration(r.DelayTime) * time.Millisecond,
		ExecutionTime: time.Duration(r.ExecutionTime) * time.Millisecond,
	}
	if len(r.Error) > 0 && string(r.Error) != "null" {
		var doc any
		if err := json.Unmarshal(r.Error, &doc); err == nil {
			job.Error = messageFromValue(doc, 0)
		}
		if job.Error == "" {
			job.Error = strings.TrimSpace(string(r.Error))
		}
	}
	return job
}

// ClientOptions configure the job client.
type ClientOptions struct {
	APIKey           string
	HTTPClient       *http.Client
	Logger           *slog.Logger
	MaxDownloadBytes int64
}

// Client submits RunPod serverless jobs and waits for them to finish.
type Client struct {
	apiKey      string
	http        *http.Client
	logger      *slog.Logger
	maxDownload int64
}

// NewClient builds a job client; a nil HTTPClient gets a traced default transport.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDownload := opts.MaxDownloadBytes
	if maxDownload <= 0 {
		maxDownload = defaultMaxDownload
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		http:        httpClient,
		logger:      logger,
		maxDownload: maxDownload,
	}
}

// Submit enqueues a job. Endpoints already ending in /run or /runsync are used
// as-is; otherwise /run is appended. A /runsync call may return a terminal job.
func (c *Client) Submit(ctx context.Context, endpoint string, input map[string]any, headers map[string]string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, cancelledError("", err)
	}
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: encode request: %v", err), Err: err}
	}
	target := submitURL(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: build request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Job{}, cancelledError("", ctxErr)
		}
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: submit job: %v", err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: read submit response: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Job{}, decodeSubmissionError(resp.StatusCode, data)
	}
	var decoded jobResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Job{}, &Error{
			Kind:       KindSubmission,
			Message:    fmt.Sprintf("runpod: decode submit response: %v", err),
			StatusCode: resp.StatusCode,
			Raw:        string(data),
			Err:        err,
		}
	}
	job := decoded.toJob()
	if job.ID == "" && !job.Status.IsTerminal() {
		return Job{}, &Error{
			Kind:       KindSubmission,
			Message:    "runpod: submit response missing job id",
			StatusCode: resp.StatusCode,
			Raw:        string(data),
		}
	}
	c.logger.Debug("runpod: job submitted",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.String("endpoint", target),
	)
	return job, nil
}

// Poll checks the job status until it is terminal or the policy is exhausted.
// Cancellation is checked before every status request.
func (c *Client) Poll(ctx context.Context, endpoint, jobID string, policy PollPolicy, headers map[string]string) (Job, error) {
	policy = policy.withDefaults()
	target := statusURL(endpoint, jobID)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Job{}, cancelledError(jobID, err)
		}
		job, err := c.status(ctx, target, jobID, headers)
		if err != nil {
			return Job{}, err
		}
		if job.Status.IsTerminal() {
			c.logger.Debug("runpod: job finished",
				slog.String("job_id", jobID),
				slog.String("status", string(job.Status)),
				slog.Int("attempts", attempt),
			)
			return job, nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleepContext(ctx, policy.Interval); err != nil {
			return Job{}, cancelledError(jobID, err)
		}
	}

	return Job{}, &Error{
		Kind: KindTimeout,
		Message: fmt.Sprintf("runpod: job %s did not finish after %d attempts (%s)",
			jobID, policy.MaxAttempts, policy.Budget()),
		JobID: jobID,
	}
}

// Wait submits input and polls until the job is terminal. A failed job is
// returned together with a JobFailed error.
func (c *Client) Wait(ctx context.Context, endpoint string, input map[string]any, policy PollPolicy, headers map[string]string) (Job, error) {
	job, err := c.Submit(ctx, endpoint, input, headers)
	if err != nil {
		return Job{}, err
	}
	if !job.Status.IsTerminal() {
		job, err = c.Poll(ctx, endpoint, job.ID, policy, headers)
		if err != nil {
			return Job{}, err
		}
	}
	if job.Status != StatusCompleted {
		return job, jobFailedError(job)
	}
	return job, nil
}

// Materialize returns the raw bytes behind a result, downloading URLs.
func (c *Client) Materialize(ctx context.Context, result Result) ([]byte, error) {
	data, _, err := c.fetch(ctx, result)
	return data, err
}

func (c *Client) fetch(ctx context.Context, result Result) ([]byte, string, error) {
	if result.Locator == LocatorInline {
		return result.Data, result.MediaType, nil
	}
	if result.URL == "" {
		return nil, "", &Error{Kind: KindDownload, Message: "runpod: result has no url to download"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return nil, "", &Error{Kind: KindDownload, Message: fmt.Sprintf("runpod: download %s: %v", result.URL, err), Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", cancelledError("", ctxErr)
		}
		return nil, "", &Error{Kind: KindDownload, Message: fmt.Sprintf("runpod: download %s: %v", result.URL, err), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &Error{
			Kind:       KindDownload,
			Message:    fmt.Sprintf("runpod: download %s failed with status %d", result.URL, resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", &Error{Kind: KindDownload, Message: fmt.Sprintf("runpod: read %s: %v", result.URL, err), Err: err}
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", &Error{Kind: KindDownload, Message: fmt.Sprintf("runpod: download %s exceeds %d bytes", result.URL, c.maxDownload)}
	}
	mediaType := result.MediaType
	if ct := strings.TrimSpace(resp.Header.Get("Content-Type")); ct != "" {
		mediaType = ct
	}
	return data, mediaType, nil
}

// Health queries the endpoint's worker/queue summary.
func (c *Client) Health(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(endpoint)+"/health", nil)
	if err != nil {
		return err
	}
	c.authorize(req, nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("runpod health check status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) status(ctx context.Context, target, jobID string, headers map[string]string) (Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: build status request: %v", err), JobID: jobID, Err: err}
	}
	c.authorize(req, headers)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Job{}, cancelledError(jobID, ctxErr)
		}
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: status for job %s: %v", jobID, err), JobID: jobID, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Job{}, cancelledError(jobID, ctxErr)
		}
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: read status for job %s: %v", jobID, err), JobID: jobID, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := decodeSubmissionError(resp.StatusCode, data)
		statusErr.JobID = jobID
		return Job{}, statusErr
	}
	var decoded jobResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Job{}, &Error{Kind: KindSubmission, Message: fmt.Sprintf("runpod: decode status for job %s: %v", jobID, err), JobID: jobID, Raw: string(data), Err: err}
	}
	job := decoded.toJob()
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

func (c *Client) authorize(req *http.Request, headers map[string]string) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func submitURL(endpoint string) string {
	e := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.HasSuffix(e, "/run") || strings.HasSuffix(e, "/runsync") {
		return e
	}
	return e + "/run"
}

func baseURL(endpoint string) string {
	e := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	switch {
	case strings.HasSuffix(e, "/runsync"):
		return strings.TrimSuffix(e, "/runsync")
	case strings.HasSuffix(e, "/run"):
		return strings.TrimSuffix(e, "/run")
	}
	return e
}

func statusURL(endpoint, jobID string) string {
	return baseURL(endpoint) + "/status/" + url.PathEscape(jobID)
}
