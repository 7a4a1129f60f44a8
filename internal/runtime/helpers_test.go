package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	configpkg "github.com/drblury/tagflow/internal/runtime/config"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem: "channel",
		Consumers: map[string]configpkg.ConsumerConfig{
			"orders":   {Group: "GID_orders", Topic: "orders"},
			"payments": {Group: "GID_payments", Topic: "payments"},
		},
	}
}

type fakeConsumer struct {
	opts     mq.ConsumerOptions
	sub      mq.Subscription
	listener mq.Listener

	mu          sync.Mutex
	started     bool
	shutdowns   int
	startErr    error
	shutdownErr error
	stopDelay   time.Duration
}

func (c *fakeConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

func (c *fakeConsumer) Shutdown() error {
	c.mu.Lock()
	delay := c.stopDelay
	c.mu.Unlock()
	time.Sleep(delay)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdowns++
	c.started = false
	return c.shutdownErr
}

func (c *fakeConsumer) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *fakeConsumer) shutdownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdowns
}

// fakeConsumerFactory stands in for a broker client. deliver routes an
// envelope to every running consumer whose subscription matches it.
type fakeConsumerFactory struct {
	mu          sync.Mutex
	consumers   []*fakeConsumer
	createErr   error
	startErr    error
	shutdownErr error
	stopDelay   time.Duration
}

func (f *fakeConsumerFactory) NewConsumer(opts mq.ConsumerOptions, sub mq.Subscription, listener mq.Listener) (mq.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	c := &fakeConsumer{opts: opts, sub: sub, listener: listener, startErr: f.startErr, shutdownErr: f.shutdownErr, stopDelay: f.stopDelay}
	f.consumers = append(f.consumers, c)
	return c, nil
}

func (f *fakeConsumerFactory) failStarts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeConsumerFactory) all() []*fakeConsumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConsumer(nil), f.consumers...)
}

func (f *fakeConsumerFactory) running() []*fakeConsumer {
	var out []*fakeConsumer
	for _, c := range f.all() {
		if c.running() {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeConsumerFactory) deliver(env *mq.Envelope) []mq.Action {
	var actions []mq.Action
	for _, c := range f.running() {
		if c.sub.Topic == env.Topic && c.sub.Matches(env.Tag) {
			actions = append(actions, c.listener(context.Background(), env.Clone()))
		}
	}
	return actions
}

// fakeProducerClient records sent envelopes.
type fakeProducerClient struct {
	mu   sync.Mutex
	sent []*mq.Envelope
	err  error
	wg   sync.WaitGroup
}

func (p *fakeProducerClient) Send(ctx context.Context, env *mq.Envelope) (mq.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return mq.SendResult{}, p.err
	}
	p.sent = append(p.sent, env.Clone())
	return mq.SendResult{MessageID: env.ID, Topic: env.Topic}, nil
}

func (p *fakeProducerClient) SendOneway(ctx context.Context, env *mq.Envelope) {
	_, _ = p.Send(ctx, env)
}

func (p *fakeProducerClient) SendAsync(ctx context.Context, env *mq.Envelope, cb mq.SendCallback) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		cb(p.Send(ctx, env))
	}()
}

func (p *fakeProducerClient) envelopes() []*mq.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*mq.Envelope(nil), p.sent...)
}

func newTestRegistry(t *testing.T, factory mq.ConsumerFactory, mws ...Middleware) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryOptions{
		Config:      newTestConfig(),
		Factory:     factory,
		Logger:      newTestLogger(),
		Middlewares: mws,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(r.ShutdownAll)
	return r
}

type Order struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

// orderHandler routes to the "orders" consumer and records payloads.
type orderHandler struct {
	mu       sync.Mutex
	received []Order
	tags     []string
	err      error
}

func (h *orderHandler) Name() string   { return "orders" }
func (h *orderHandler) Tags() []string { return h.tags }

func (h *orderHandler) OnMessage(ctx context.Context, o Order) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.received = append(h.received, o)
	return nil
}

func (h *orderHandler) orders() []Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Order(nil), h.received...)
}

var errBoom = errors.New("boom")
