package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/trace/noop"

	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/tagflow/internal/runtime/handlers"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

func passthrough(ctx context.Context, env *mq.Envelope) error { return nil }

func TestCorrelationIDMiddleware(t *testing.T) {
	env := &mq.Envelope{Topic: "orders"}
	if err := correlationIDMiddleware(passthrough)(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	generated := env.Property(handlerpkg.PropertyCorrelationID)
	if generated == "" {
		t.Fatal("expected a correlation id")
	}

	if err := correlationIDMiddleware(passthrough)(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if env.Property(handlerpkg.PropertyCorrelationID) != generated {
		t.Fatal("existing correlation id must be kept")
	}
}

func TestRecovererMiddleware(t *testing.T) {
	mw := recovererMiddleware(newTestLogger())
	ctx := context.WithValue(context.Background(), subscriptionKeyContextKey{}, "k")
	err := mw(func(ctx context.Context, env *mq.Envelope) error {
		panic("nil order")
	})(ctx, &mq.Envelope{})

	var handlerErr *tferrors.HandlerError
	if !errors.As(err, &handlerErr) || handlerErr.Panic != "nil order" || handlerErr.Key != "k" {
		t.Fatalf("expected HandlerError with panic, got %v", err)
	}
	if !tferrors.IsPanic(err) {
		t.Fatal("IsPanic should report true")
	}
}

func TestTracerMiddlewarePropagatesResult(t *testing.T) {
	mw := tracerMiddleware(noop.NewTracerProvider().Tracer(TracerName))
	env := &mq.Envelope{Topic: "orders", Tag: "created", ID: "1"}

	if err := mw(passthrough)(context.Background(), env); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	err := mw(func(ctx context.Context, env *mq.Envelope) error { return errBoom })(context.Background(), env)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestLogMessagesMiddleware(t *testing.T) {
	var called bool
	err := logMessagesMiddleware(newTestLogger())(func(ctx context.Context, env *mq.Envelope) error {
		called = true
		return nil
	})(context.Background(), &mq.Envelope{Topic: "orders", Body: []byte("{}")})
	if err != nil || !called {
		t.Fatalf("expected next to run, err=%v", err)
	}
}

func TestListenerMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := newListenerMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}
	env := &mq.Envelope{Topic: "orders", Tag: "created"}
	_ = m.middleware(passthrough)(context.Background(), env)
	_ = m.middleware(func(ctx context.Context, env *mq.Envelope) error { return errBoom })(context.Background(), env)

	if got := counterValue(t, m.messages.WithLabelValues("orders", "created", mq.Commit.String())); got != 1 {
		t.Fatalf("commit count = %v", got)
	}
	if got := counterValue(t, m.messages.WithLabelValues("orders", "created", mq.RetryLater.String())); got != 1 {
		t.Fatalf("retry count = %v", got)
	}

	again, err := newListenerMetrics(reg)
	if err != nil {
		t.Fatalf("re-registering must reuse collectors: %v", err)
	}
	if again.messages != m.messages {
		t.Fatal("expected the existing collector")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterMiddlewareValidation(t *testing.T) {
	svc := newFakeService(t, ServiceDependencies{DisableDefaultMiddlewares: true})

	if err := svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}); err == nil {
		t.Fatal("expected error for empty registration")
	}
	if err := svc.RegisterMiddleware(MiddlewareRegistration{Builder: func(*Service) (Middleware, error) { return nil, errBoom }}); !errors.Is(err, errBoom) {
		t.Fatalf("expected builder error, got %v", err)
	}
	if err := svc.RegisterMiddleware(MiddlewareRegistration{Builder: func(*Service) (Middleware, error) { return nil, nil }}); err != nil {
		t.Fatalf("nil middleware is skipped, got %v", err)
	}
}

func TestMetricsMiddlewareSkippedWhenDisabled(t *testing.T) {
	svc := newFakeService(t, ServiceDependencies{DisableDefaultMiddlewares: true})
	mw, err := MetricsMiddleware().Builder(svc.Service)
	if err != nil || mw != nil {
		t.Fatalf("expected no middleware, got %v %v", mw != nil, err)
	}
}

func TestDeliveryHooks(t *testing.T) {
	var started, done, failed []DeliveryInfo
	hooks := DeliveryHooks{
		OnStart: func(info DeliveryInfo) { started = append(started, info) },
		OnDone:  func(info DeliveryInfo) { done = append(done, info) },
	}.Merge(DeliveryHooks{
		OnError: func(info DeliveryInfo, err error) { failed = append(failed, info) },
	}).Merge(LoggingHooks(newTestLogger()))

	mw := deliveryHooksMiddleware(hooks)
	ctx := context.WithValue(context.Background(), subscriptionKeyContextKey{}, "k")
	env := &mq.Envelope{Topic: "orders", Tag: "created", ID: "1", ReconsumeTimes: 2}

	_ = mw(passthrough)(ctx, env)
	_ = mw(func(ctx context.Context, env *mq.Envelope) error { return errBoom })(ctx, env)

	if len(started) != 2 || len(done) != 1 || len(failed) != 1 {
		t.Fatalf("started=%d done=%d failed=%d", len(started), len(done), len(failed))
	}
	if info := failed[0]; info.Key != "k" || info.MessageID != "1" || info.ReconsumeTimes != 2 || info.StartedAt.IsZero() {
		t.Fatalf("unexpected info %+v", info)
	}

	var alerts int
	alerting := deliveryHooksMiddleware(AlertingHooks(func(DeliveryInfo, error) { alerts++ }))
	_ = alerting(passthrough)(ctx, env)
	_ = alerting(func(ctx context.Context, env *mq.Envelope) error { return errBoom })(ctx, env)
	if alerts != 1 {
		t.Fatalf("alerts = %d", alerts)
	}
}
