package asr

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-asr/internal/asr"

type metrics struct {
	sessionsStarted metric.Int64Counter
	transcripts     metric.Int64Counter
	timeouts        metric.Int64Counter
	workersCreated  metric.Int64Counter
	decodeFailures  metric.Int64Counter
	decodeSeconds   metric.Float64Histogram
}

func newMetrics(meter metric.Meter, snapshot func() (sessions, pooled int64)) (*metrics, error) {
	m := &metrics{}
	var err error
	if m.sessionsStarted, err = meter.Int64Counter("loqa.asr.sessions.started", metric.WithDescription("Recognition sessions opened")); err != nil {
		return nil, err
	}
	if m.transcripts, err = meter.Int64Counter("loqa.asr.transcripts", metric.WithDescription("Transcripts emitted")); err != nil {
		return nil, err
	}
	if m.timeouts, err = meter.Int64Counter("loqa.asr.finalize.timeouts", metric.WithDescription("Sessions finalized without a recognizer result in time")); err != nil {
		return nil, err
	}
	if m.workersCreated, err = meter.Int64Counter("loqa.asr.workers.created", metric.WithDescription("Transcriber workers constructed")); err != nil {
		return nil, err
	}
	if m.decodeFailures, err = meter.Int64Counter("loqa.asr.decode.failures", metric.WithDescription("Recognizer errors and panics")); err != nil {
		return nil, err
	}
	if m.decodeSeconds, err = meter.Float64Histogram("loqa.asr.decode.seconds", metric.WithDescription("Recognizer decode time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}

	active, err := meter.Int64ObservableGauge("loqa.asr.sessions.active", metric.WithDescription("Open recognition sessions"))
	if err != nil {
		return nil, err
	}
	pooled, err := meter.Int64ObservableGauge("loqa.asr.workers.pooled", metric.WithDescription("Idle transcriber workers"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		sessions, free := snapshot()
		obs.ObserveInt64(active, sessions)
		obs.ObserveInt64(pooled, free)
		return nil
	}, active, pooled)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

func (m *metrics) sessionStarted(ctx context.Context, siteID string) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("site_id", siteID)))
}

func (m *metrics) transcriptEmitted(ctx context.Context, empty bool) {
	if m == nil {
		return
	}
	m.transcripts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("empty", empty)))
}

func (m *metrics) finalizeTimedOut(ctx context.Context) {
	if m == nil {
		return
	}
	m.timeouts.Add(ctx, 1)
}

func (m *metrics) workerCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.workersCreated.Add(ctx, 1)
}

func (m *metrics) decodeFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.decodeFailures.Add(ctx, 1)
}

func (m *metrics) decoded(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.decodeSeconds.Record(ctx, seconds)
}
