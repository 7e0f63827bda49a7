package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

// Event describes one finished media job.
type Event struct {
	ID          string    `json:"id"`
	Alias       string    `json:"model"`
	Provider    string    `json:"provider"`
	Family      string    `json:"family,omitempty"`
	Modality    string    `json:"modality"`
	JobID       string    `json:"job_id,omitempty"`
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
	ExecutionMS int64     `json:"execution_ms"`
	Cost        string    `json:"cost,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Warnings    int       `json:"warnings"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives job events.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// New builds the configured sinks. It returns nil when nothing is enabled.
func New(cfg config.NotificationsConfig, logger *slog.Logger) Sink {
	var sinks []Sink
	if cfg.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	if len(cfg.Webhooks) > 0 {
		sinks = append(sinks, NewWebhookSink(cfg, logger))
	}
	return NewCompositeSink(sinks...)
}

// Stamp fills the id and timestamp of an event.
func Stamp(event Event) Event {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, event Event) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.InfoContext(ctx, "job finished",
		slog.String("event_id", event.ID),
		slog.String("model", event.Alias),
		slog.String("provider", event.Provider),
		slog.String("modality", event.Modality),
		slog.String("job_id", event.JobID),
		slog.String("result", event.Result),
		slog.Int64("execution_ms", event.ExecutionMS),
		slog.String("cost", event.Cost),
	)
	return nil
}

// CompositeSink fans out notifications to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeSink{sinks: filtered}
}

func (c *CompositeSink) Notify(ctx context.Context, event Event) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
