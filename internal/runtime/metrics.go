package runtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/tagflow/internal/runtime/mq"
)

const metricsNamespace = "tagflow"

type listenerMetrics struct {
	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newListenerMetrics(reg prometheus.Registerer) (*listenerMetrics, error) {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_total",
		Help:      "Messages handled by tagflow listeners, by outcome.",
	}, []string{"topic", "tag", "action"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "handler_duration_seconds",
		Help:      "Time spent in tagflow handlers.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic", "tag"})

	var err error
	if messages, err = registerOrReuse(reg, messages); err != nil {
		return nil, err
	}
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	return &listenerMetrics{messages: messages, duration: duration}, nil
}

// registerOrReuse returns the already registered collector when an identical
// one exists, so several services can share a registerer.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *listenerMetrics) middleware(next InvokeFunc) InvokeFunc {
	return func(ctx context.Context, env *mq.Envelope) error {
		start := time.Now()
		err := next(ctx, env)
		m.duration.WithLabelValues(env.Topic, env.Tag).Observe(time.Since(start).Seconds())

		action := mq.Commit
		if err != nil {
			action = mq.RetryLater
		}
		m.messages.WithLabelValues(env.Topic, env.Tag, action.String()).Inc()
		return err
	}
}

func (s *Service) registerer() prometheus.Registerer {
	if s.metricsRegisterer != nil {
		return s.metricsRegisterer
	}
	return prometheus.DefaultRegisterer
}

func (s *Service) listenerMetrics() (*listenerMetrics, error) {
	s.metricsOnce.Do(func() {
		s.metrics, s.metricsErr = newListenerMetrics(s.registerer())
		if s.metricsErr == nil && s.Conf.MetricsPort > 0 {
			s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", s.metricsHandler())
		}
	})
	return s.metrics, s.metricsErr
}

func (s *Service) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer().(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// decoratePublisher adds Watermill's publish metrics to pub when metrics are enabled.
func (s *Service) decoratePublisher(pub message.Publisher) (message.Publisher, error) {
	if pub == nil || s.Conf == nil || !s.Conf.MetricsEnabled {
		return pub, nil
	}
	builder := metrics.NewPrometheusMetricsBuilder(s.registerer(), metricsNamespace, s.Conf.PubSubSystem)
	return builder.DecoratePublisher(pub)
}
