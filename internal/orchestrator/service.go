// Package orchestrator implements site liveness, project membership, batch
// fan-out and run status transitions on top of the transactional store.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"fedplane/internal/blob"
	"fedplane/internal/logger"
	"fedplane/internal/observability"
	"fedplane/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLivenessThreshold is how long a site may stay silent before the
// sweep marks it DISCONNECTED.
const DefaultLivenessThreshold = 60 * time.Second

// Store combines the repositories the orchestrator writes through.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.SiteStore
	store.ProjectStore
	store.RunStore
}

// Service is safe for concurrent use; all coordination happens through row
// locks in the store.
type Service struct {
	store   Store
	blobs   blob.Store
	log     *slog.Logger
	metrics *observability.Instruments
	tracer  trace.Tracer
	now     func() time.Time

	livenessThreshold time.Duration
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLivenessThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.livenessThreshold = d
		}
	}
}

func WithInstruments(in *observability.Instruments) Option {
	return func(s *Service) { s.metrics = in }
}

// New creates a Service.
func New(st Store, blobs blob.Store, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:             st,
		blobs:             blobs,
		log:               log,
		tracer:            observability.Tracer(),
		now:               func() time.Time { return time.Now().UTC() },
		livenessThreshold: DefaultLivenessThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observability.DefaultInstruments()
	}
	return s
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.log)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
