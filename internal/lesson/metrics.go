package lesson

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/loqalabs/loqa-lessons/lesson"

type metrics struct {
	tracer    trace.Tracer
	lessons   metric.Int64Counter
	slides    metric.Int64Counter
	fallbacks metric.Int64Counter
	slideTime metric.Float64Histogram
	inFlight  atomic.Int64
}

func newMetrics(log *slog.Logger) *metrics {
	return newMetricsWith(otel.Meter(instrumentation), log)
}

// newMetricsWith starts from no-op instruments, so any instrument the
// meter fails to create stays safe to record on.
func newMetricsWith(meter metric.Meter, log *slog.Logger) *metrics {
	m := &metrics{
		tracer:    otel.Tracer(instrumentation),
		lessons:   noop.Int64Counter{},
		slides:    noop.Int64Counter{},
		fallbacks: noop.Int64Counter{},
		slideTime: noop.Float64Histogram{},
	}
	if err := m.init(meter); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	return m
}

func (m *metrics) init(meter metric.Meter) error {
	lessons, err := meter.Int64Counter("loqa.lessons.total", metric.WithDescription("Lessons generated by outcome"))
	if err != nil {
		return err
	}
	m.lessons = lessons
	slides, err := meter.Int64Counter("loqa.lessons.slides", metric.WithDescription("Slides generated by status"))
	if err != nil {
		return err
	}
	m.slides = slides
	fallbacks, err := meter.Int64Counter("loqa.lessons.fallbacks", metric.WithDescription("Slides filled from fallback content"))
	if err != nil {
		return err
	}
	m.fallbacks = fallbacks
	slideTime, err := meter.Float64Histogram("loqa.lessons.slide_seconds", metric.WithDescription("Slide generation time"), metric.WithUnit("s"))
	if err != nil {
		return err
	}
	m.slideTime = slideTime
	gauge, err := meter.Int64ObservableGauge("loqa.lessons.in_flight", metric.WithDescription("Lessons currently generating"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, m.inFlight.Load())
		return nil
	}, gauge)
	return err
}

func (m *metrics) lessonDone(ctx context.Context, success bool) {
	outcome := "success"
	if !success {
		outcome = "partial"
	}
	m.lessons.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) lessonFailed(ctx context.Context) {
	m.lessons.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
}

func (m *metrics) slideDone(ctx context.Context, s Slide, fallback bool) {
	m.slides.Add(ctx, 1, metric.WithAttributes(attribute.String("status", s.Status)))
	m.slideTime.Record(ctx, s.GenerationTime, metric.WithAttributes(attribute.String("content_type", s.ContentType)))
	if fallback {
		m.fallbacks.Add(ctx, 1)
	}
}
