package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

const namespace = "open_media_gateway"

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	jobCounter         *promreg.CounterVec
	jobLatencyHist     *promreg.HistogramVec
	gpuSecondsCounter  *promreg.CounterVec
	costCounter        *promreg.CounterVec
	warningCounter     *promreg.CounterVec
}

// JobOutcome describes one finished media job for metrics.
type JobOutcome struct {
	Model    string
	Provider string
	Family   string
	Modality string
	// Result is "ok" or the error kind.
	Result    string
	Latency   time.Duration
	Execution time.Duration
	CostUSD   float64
	Warnings  int
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("open-media-gateway"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		jobBuckets := []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200}
		jobs := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Media jobs by outcome.",
			},
			[]string{"model", "provider", "family", "modality", "result"},
		)
		jobLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock time from submission to a terminal job state.",
				Buckets:   jobBuckets,
			},
			[]string{"model", "provider", "modality", "result"},
		)
		gpuSeconds := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "gpu_execution_seconds_total",
				Help:      "Upstream execution time reported by completed jobs.",
			},
			[]string{"model", "provider", "family"},
		)
		cost := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "job_cost_usd_total",
				Help:      "Estimated cost of completed jobs in USD.",
			},
			[]string{"model", "provider"},
		)
		warnings := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "job_warnings_total",
				Help:      "Request settings that were ignored or degraded.",
			},
			[]string{"model", "family"},
		)
		for _, c := range []promreg.Collector{httpRequests, httpLatency, jobs, jobLatency, gpuSeconds, cost, warnings} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.jobCounter = jobs
		provider.jobLatencyHist = jobLatency
		provider.gpuSecondsCounter = gpuSeconds
		provider.costCounter = cost
		provider.warningCounter = warnings
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// RecordJob updates the job counters for one finished job.
func (p *Provider) RecordJob(o JobOutcome) {
	if p == nil || p.jobCounter == nil {
		return
	}
	result := o.Result
	if result == "" {
		result = "ok"
	}
	p.jobCounter.WithLabelValues(o.Model, o.Provider, o.Family, o.Modality, result).Inc()
	p.jobLatencyHist.WithLabelValues(o.Model, o.Provider, o.Modality, result).Observe(o.Latency.Seconds())
	if o.Execution > 0 {
		p.gpuSecondsCounter.WithLabelValues(o.Model, o.Provider, o.Family).Add(o.Execution.Seconds())
	}
	if o.CostUSD > 0 {
		p.costCounter.WithLabelValues(o.Model, o.Provider).Add(o.CostUSD)
	}
	if o.Warnings > 0 {
		p.warningCounter.WithLabelValues(o.Model, o.Family).Add(float64(o.Warnings))
	}
}
