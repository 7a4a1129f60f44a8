package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	configpkg "github.com/drblury/tagflow/internal/runtime/config"
	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/tagflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

// RegistryOptions holds the collaborators of a Registry.
type RegistryOptions struct {
	Config      *configpkg.Config
	Factory     mq.ConsumerFactory
	Logger      loggingpkg.ServiceLogger
	Middlewares []Middleware
	Classifier  ErrorClassifier
}

// Registry owns one running consumer per subscription key.
type Registry struct {
	conf       *configpkg.Config
	factory    mq.ConsumerFactory
	logger     loggingpkg.ServiceLogger
	classifier ErrorClassifier

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	middlewares []Middleware
	handles     map[string]*consumerHandle
	closed      bool
}

type consumerHandle struct {
	key          SubscriptionKey
	consumer     mq.Consumer
	subscription mq.Subscription
	options      mq.ConsumerOptions
	payload      handlerpkg.PayloadType
	stats        *SubscriptionStats
}

// SubscriptionInfo describes a registered consumer.
type SubscriptionInfo struct {
	Key          string             `json:"key"`
	Identity     string             `json:"identity"`
	Name         string             `json:"name"`
	Tag          string             `json:"tag"`
	Topic        string             `json:"topic"`
	Expression   string             `json:"expression"`
	Group        string             `json:"group"`
	MessageModel mq.MessageModel    `json:"message_model"`
	Payload      string             `json:"payload"`
	Stats        *SubscriptionStats `json:"stats"`
}

// NewRegistry validates opts and returns an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Config == nil {
		return nil, tferrors.ErrConfigRequired
	}
	if opts.Factory == nil {
		return nil, tferrors.ErrConsumerFactory
	}
	if opts.Logger == nil {
		return nil, tferrors.ErrLoggerRequired
	}
	if opts.Classifier == nil {
		opts.Classifier = defaultErrorClassifier
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		conf:        opts.Config,
		factory:     opts.Factory,
		logger:      opts.Logger.With(loggingpkg.LogFields{"component": "registry"}),
		classifier:  opts.Classifier,
		ctx:         ctx,
		cancel:      cancel,
		middlewares: append([]Middleware(nil), opts.Middlewares...),
		handles:     make(map[string]*consumerHandle),
	}, nil
}

// Use appends middlewares to the chain of consumers registered afterwards.
func (r *Registry) Use(mws ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mw := range mws {
		if mw != nil {
			r.middlewares = append(r.middlewares, mw)
		}
	}
}

// Register starts one consumer per subscription key of reg. Keys without a
// consumer configuration are reported as *errors.ConfigurationError while the
// remaining keys are still registered; all failures are joined. A consumer
// already registered under the same key is replaced once the new one runs.
// Payload interfaces with methods are rejected before any key is registered.
func Register[T any](r *Registry, reg Registration[T]) error {
	if r == nil {
		return tferrors.ErrRegistryRequired
	}
	if reg.Handler == nil {
		return tferrors.ErrHandlerRequired
	}

	identity := reg.identity()
	routing := reg.routing()
	pt := handlerpkg.ResolvePayloadType[T]()
	logger := r.logger.With(loggingpkg.LogFields{"identity": identity, "payload": pt.String()})

	if routing.Name != "" && len(routing.Names) > 0 {
		logger.Warn("Handler declares both a name and a name list; the list is ignored", loggingpkg.LogFields{
			"name":  routing.Name,
			"names": routing.Names,
		})
	}
	if !pt.Deliverable() {
		return &tferrors.ConfigurationError{
			Name:   routing.Name,
			Reason: fmt.Sprintf("%s: %s", tferrors.ErrPayloadUndecodable, pt.Type),
		}
	}
	if pt.Kind == handlerpkg.PayloadAny {
		logger.Debug("Handler payload is an empty interface; it receives the raw body", nil)
	}

	keys := ExpandSubscriptions(identity, routing)
	if len(keys) == 0 {
		logger.Info("Handler routes to no consumer name; nothing registered", nil)
		return nil
	}

	var errs []error
	for _, key := range keys {
		if err := registerKey(r, key, reg.Handler, pt); err != nil {
			logger.Error("Failed to register subscription", err, loggingpkg.LogFields{"key": key.String()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func registerKey[T any](r *Registry, key SubscriptionKey, handler Handler[T], pt handlerpkg.PayloadType) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return tferrors.ErrRegistryClosed
	}
	middlewares := append([]Middleware(nil), r.middlewares...)
	r.mu.Unlock()

	opts, ok := r.conf.ConsumerOptions(key.Name)
	if !ok {
		return tferrors.NewMissingConsumerError(key.Name, key.String())
	}
	if opts.Topic == "" {
		return &tferrors.ConfigurationError{Name: key.Name, Key: key.String(), Reason: tferrors.ErrSubscriptionNoTopics.Error()}
	}

	sub := mq.Subscription{Topic: opts.Topic, Expression: key.Tag}
	stats := newSubscriptionStats()
	listener := BuildListener(handler, pt, ListenerOptions{
		Key:         key,
		Logger:      r.logger,
		Middlewares: middlewares,
		Stats:       stats,
		Classifier:  r.classifier,
	})

	consumer, err := r.factory.NewConsumer(opts, sub, listener)
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", key, err)
	}
	if err := consumer.Start(r.ctx); err != nil {
		_ = consumer.Shutdown()
		return fmt.Errorf("start consumer %s: %w", key, err)
	}

	id := key.String()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = consumer.Shutdown()
		return tferrors.ErrRegistryClosed
	}
	prev := r.handles[id]
	r.handles[id] = &consumerHandle{
		key:          key,
		consumer:     consumer,
		subscription: sub,
		options:      opts,
		payload:      pt,
		stats:        stats,
	}
	r.mu.Unlock()

	// The replaced consumer is stopped only once its successor is running.
	if prev != nil {
		r.logger.Info("Replacing consumer", loggingpkg.LogFields{"key": id})
		if err := prev.consumer.Shutdown(); err != nil {
			r.logger.Error("Failed to stop replaced consumer", err, loggingpkg.LogFields{"key": id})
		}
	}
	r.logger.Info("Consumer registered", loggingpkg.LogFields{
		"key":   id,
		"topic": sub.Topic,
		"tags":  sub.Expression,
		"group": opts.Group,
	})
	return nil
}

// ShutdownAll stops every consumer exactly once and empties the registry.
// Stop failures are logged and do not interrupt the others. Later calls are
// no-ops and later registrations fail with ErrRegistryClosed.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*consumerHandle)
	r.mu.Unlock()

	for id, h := range handles {
		if err := h.consumer.Shutdown(); err != nil {
			r.logger.Error("Failed to stop consumer", err, loggingpkg.LogFields{"key": id})
		}
	}
	r.cancel()
	r.logger.Info("All consumers stopped", loggingpkg.LogFields{"count": len(handles)})
}

// Len returns the number of running consumers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Keys returns the subscription keys of running consumers, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Closed reports whether ShutdownAll was called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Snapshot describes every running consumer, sorted by key.
func (r *Registry) Snapshot() []SubscriptionInfo {
	r.mu.Lock()
	infos := make([]SubscriptionInfo, 0, len(r.handles))
	for id, h := range r.handles {
		infos = append(infos, SubscriptionInfo{
			Key:          id,
			Identity:     h.key.Identity,
			Name:         h.key.Name,
			Tag:          h.key.Tag,
			Topic:        h.subscription.Topic,
			Expression:   h.subscription.Expression,
			Group:        h.options.Group,
			MessageModel: h.options.MessageModel,
			Payload:      h.payload.String(),
			Stats:        h.stats,
		})
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}
