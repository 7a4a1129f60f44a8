package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/tagflow/internal/runtime/config"
	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	"github.com/drblury/tagflow/internal/runtime/mq"
	transportpkg "github.com/drblury/tagflow/internal/runtime/transport"
)

type fakeService struct {
	*Service
	consumers *fakeConsumerFactory
	producer  *fakeProducerClient
}

func newFakeService(t *testing.T, deps ServiceDependencies) *fakeService {
	t.Helper()
	consumers := &fakeConsumerFactory{}
	producer := &fakeProducerClient{}
	deps.ConsumerFactory = consumers
	deps.ProducerClient = producer
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	svc, err := NewService(newTestConfig(), newTestLogger(), deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Shutdown() })
	return &fakeService{Service: svc, consumers: consumers, producer: producer}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, newTestLogger(), ServiceDependencies{}); !errors.Is(err, tferrors.ErrConfigRequired) {
		t.Fatalf("expected ErrConfigRequired, got %v", err)
	}
	if _, err := NewService(newTestConfig(), nil, ServiceDependencies{}); !errors.Is(err, tferrors.ErrLoggerRequired) {
		t.Fatalf("expected ErrLoggerRequired, got %v", err)
	}

	conf := newTestConfig()
	conf.Consumers["broken"] = configpkg.ConsumerConfig{Group: "GID"}
	_, err := NewService(conf, newTestLogger(), ServiceDependencies{})
	var validation tferrors.ConfigValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ConfigValidationError, got %v", err)
	}
}

func TestNewServiceTransportFailure(t *testing.T) {
	factory := transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{}, errBoom
	})
	_, err := NewService(newTestConfig(), newTestLogger(), ServiceDependencies{TransportFactory: factory})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewServiceMiddlewareFailure(t *testing.T) {
	_, err := NewService(newTestConfig(), newTestLogger(), ServiceDependencies{
		ConsumerFactory: &fakeConsumerFactory{},
		ProducerClient:  &fakeProducerClient{},
		Middlewares:     []MiddlewareRegistration{{Name: "broken"}},
	})
	if err == nil {
		t.Fatal("expected middleware registration error")
	}
}

func TestServiceRegisterHandlerAndSend(t *testing.T) {
	svc := newFakeService(t, ServiceDependencies{})
	h := &orderHandler{}

	if err := RegisterHandler(svc.Service, Registration[Order]{Handler: h}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	if svc.Registry().Len() != 1 {
		t.Fatalf("expected one subscription, got %v", svc.Registry().Keys())
	}

	res, err := svc.Producer().SendSync(context.Background(), "orders", Order{ID: "1", Amount: 3}, WithTag("created"))
	if err != nil || res.MessageID == "" {
		t.Fatalf("SendSync: %+v %v", res, err)
	}

	// loop the sent envelope back through the fake broker
	sent := svc.producer.envelopes()
	actions := svc.consumers.deliver(sent[0])
	if len(actions) != 1 || actions[0] != mq.Commit {
		t.Fatalf("actions = %v", actions)
	}
	if got := h.orders(); len(got) != 1 || got[0].Amount != 3 {
		t.Fatalf("handler received %v", got)
	}
	if sent[0].Property("correlation_id") != "" {
		t.Fatal("no correlation id expected outside a handler")
	}
}

func TestServiceDefaultMiddlewaresRecoverPanics(t *testing.T) {
	svc := newFakeService(t, ServiceDependencies{})
	err := RegisterHandler(svc.Service, Registration[Order]{
		Name: "orders",
		Handler: HandlerFunc[Order](func(ctx context.Context, o Order) error {
			panic("unexpected")
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	env := &mq.Envelope{Topic: "orders", Tag: "created", ID: "1", Body: []byte(`{"id":"1"}`)}
	actions := svc.consumers.deliver(env)
	if len(actions) != 1 || actions[0] != mq.RetryLater {
		t.Fatalf("actions = %v", actions)
	}
	snap := svc.Registry().Snapshot()[0].Stats.Snapshot()
	if snap.Errors.Panic != 1 {
		t.Fatalf("expected a panic to be recorded, got %+v", snap.Errors)
	}
}

func TestServiceShutdownIsIdempotent(t *testing.T) {
	svc := newFakeService(t, ServiceDependencies{})
	if err := RegisterHandler(svc.Service, Registration[Order]{Handler: &orderHandler{}}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := svc.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	for _, c := range svc.consumers.all() {
		if c.shutdownCount() != 1 {
			t.Fatalf("consumer stopped %d times", c.shutdownCount())
		}
	}
	if err := RegisterHandler(svc.Service, Registration[Order]{Handler: &orderHandler{}}); !errors.Is(err, tferrors.ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}

func TestServiceStartBlocksUntilCancelled(t *testing.T) {
	svc := newFakeService(t, ServiceDependencies{})
	if err := RegisterHandler(svc.Service, Registration[Order]{Handler: &orderHandler{}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-done:
		t.Fatal("Start returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	if svc.Registry().Len() != 0 {
		t.Fatal("expected consumers to be stopped")
	}
}

func TestRegisterHandlerRequiresService(t *testing.T) {
	if err := RegisterHandler[Order](nil, Registration[Order]{Handler: &orderHandler{}}); !errors.Is(err, tferrors.ErrServiceRequired) {
		t.Fatalf("expected ErrServiceRequired, got %v", err)
	}
}

func TestServiceMetricsEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	consumers := &fakeConsumerFactory{}
	conf := newTestConfig()
	conf.MetricsEnabled = true

	svc, err := NewService(conf, newTestLogger(), ServiceDependencies{
		ConsumerFactory:   consumers,
		ProducerClient:    &fakeProducerClient{},
		MetricsRegisterer: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Shutdown()

	if err := RegisterHandler(svc, Registration[Order]{Handler: &orderHandler{}}); err != nil {
		t.Fatal(err)
	}
	consumers.deliver(&mq.Envelope{Topic: "orders", Tag: "created", Body: []byte(`{"id":"1"}`)})
	svc.deadLetters.ObserveDeadLetter(&mq.Envelope{Topic: "orders", ID: "2"}, "GID_orders", 17)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"tagflow_messages_total", "tagflow_handler_duration_seconds", "tagflow_dlq_messages_total", "tagflow_dlq_reconsume_times"} {
		if !names[want] {
			t.Errorf("metric %s not exported, got %v", want, names)
		}
	}
}

// TestServiceEndToEndOverChannel runs the Watermill broker client on the
// in-memory channel transport.
func TestServiceEndToEndOverChannel(t *testing.T) {
	conf := newTestConfig()
	svc, err := NewService(conf, newTestLogger(), ServiceDependencies{MetricsRegisterer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Shutdown()

	received := make(chan Order, 4)
	err = RegisterHandler(svc, Registration[Order]{
		Name: "orders",
		Tags: []string{"created"},
		Handler: HandlerFunc[Order](func(ctx context.Context, o Order) error {
			received <- o
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.Producer().SendSync(ctx, "orders", Order{ID: "skip"}, WithTag("cancelled")); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Producer().SendSync(ctx, "orders", Order{ID: "1", Amount: 10}, WithTag("created"))
	if err != nil || res.MessageID == "" {
		t.Fatalf("SendSync: %+v %v", res, err)
	}

	select {
	case o := <-received:
		if o.ID != "1" || o.Amount != 10 {
			t.Fatalf("unexpected order %+v", o)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("order not delivered")
	}
	select {
	case o := <-received:
		t.Fatalf("message with a non-matching tag delivered: %+v", o)
	case <-time.After(100 * time.Millisecond):
	}

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
