package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tagflow/internal/runtime/broker"
	configpkg "github.com/drblury/tagflow/internal/runtime/config"
	errspkg "github.com/drblury/tagflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	"github.com/drblury/tagflow/internal/runtime/mq"
	transportpkg "github.com/drblury/tagflow/internal/runtime/transport"
)

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the Watermill broker client over the configured transport.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// ConsumerFactory and ProducerClient replace the Watermill broker client.
	// When both are set no transport is built.
	ConsumerFactory mq.ConsumerFactory
	ProducerClient  mq.ProducerClient

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	ErrorClassifier           ErrorClassifier
	// MetricsRegisterer defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Service wires configuration, transport, consumer registry and producer.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry *Registry
	producer *Producer
	closers  []func() error

	metricsRegisterer prometheus.Registerer
	metricsOnce       sync.Once
	metrics           *listenerMetrics
	metricsErr        error

	resources   *resourceSampler
	deadLetters *DeadLetterStats

	httpMuxes     map[int]*http.ServeMux
	httpServers   []*http.Server
	httpServersMu sync.Mutex

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewService validates conf and builds the transport, broker client, registry
// and producer. Register handlers on the returned Service, then call Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating tagflow service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"consumers":     conf.ConsumerNames(),
		"config":        conf,
	})

	s := &Service{
		Conf:              conf,
		Logger:            log,
		metricsRegisterer: deps.MetricsRegisterer,
		resources:         newResourceSampler(),
		deadLetters:       newDeadLetterStats(),
	}
	if err := s.build(deps); err != nil {
		if closeErr := s.runClosers(); closeErr != nil {
			log.Error("Failed to release resources after setup error", closeErr, nil)
		}
		return nil, err
	}
	return s, nil
}

func (s *Service) build(deps ServiceDependencies) error {
	consumers := deps.ConsumerFactory
	client := deps.ProducerClient

	if s.Conf.MetricsEnabled {
		if err := s.deadLetters.register(s.registerer()); err != nil {
			return fmt.Errorf("register dead-letter metrics: %w", err)
		}
	}

	if consumers == nil || client == nil {
		factory := deps.TransportFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		tr, err := factory.Build(context.Background(), s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
		if err != nil {
			return fmt.Errorf("build transport %q: %w", s.Conf.PubSubSystem, err)
		}
		s.closers = append(s.closers, transportCloser(tr))
		if caps := transportpkg.CapabilitiesOf(s.Conf.PubSubSystem); caps.Name != "" && !caps.SupportsReliableDelivery() {
			s.Logger.Warn("Transport cannot redeliver on its own, retries rely on the local reconsume counter", loggingpkg.LogFields{
				"pubsub_system": s.Conf.PubSubSystem,
			})
		}

		if consumers == nil {
			consumers = broker.NewConsumerFactory(tr, s.Logger, broker.WithDeadLetterObserver(s.deadLetters))
		}
		if client == nil {
			pub, err := s.decoratePublisher(tr.Publisher)
			if err != nil {
				return fmt.Errorf("decorate publisher: %w", err)
			}
			bp, err := broker.NewProducer(pub, s.Logger,
				broker.WithSendTimeout(s.Conf.Producer.SendTimeout()),
				broker.WithProducerGroup(s.Conf.Producer.Group),
			)
			if err != nil {
				return err
			}
			s.closers = append(s.closers, bp.Close)
			client = bp
		}
	}

	classifier := deps.ErrorClassifier
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	registry, err := NewRegistry(RegistryOptions{
		Config:     s.Conf,
		Factory:    consumers,
		Logger:     s.Logger,
		Classifier: classifier,
	})
	if err != nil {
		return err
	}
	s.registry = registry

	producer, err := NewProducer(client, s.Logger)
	if err != nil {
		return err
	}
	s.producer = producer

	return s.registerConfiguredMiddlewares(deps)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHandler starts consumers for every subscription of reg right away.
func RegisterHandler[T any](s *Service, reg Registration[T]) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return Register(s.registry, reg)
}

// Producer returns the producer facade.
func (s *Service) Producer() *Producer { return s.producer }

// Registry returns the consumer registry.
func (s *Service) Registry() *Registry { return s.registry }

// DeadLetters returns the dead-letter counters of the Watermill broker client.
func (s *Service) DeadLetters() DeadLetterSnapshot { return s.deadLetters.Snapshot() }

// Start serves the admin and metrics endpoints and blocks until ctx is
// cancelled, then shuts the service down.
func (s *Service) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.startAdminServer()
		if s.Conf.MetricsEnabled {
			if _, err := s.listenerMetrics(); err != nil {
				s.Logger.Error("Failed to register metrics", err, nil)
			}
		}
		s.startHTTPServers()
		s.Logger.Info("Service started", loggingpkg.LogFields{"subscriptions": s.registry.Len()})
	})
	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown stops every consumer, the HTTP servers and the transport. Later
// calls return the result of the first one.
func (s *Service) Shutdown() error {
	s.shutdownOnce.Do(func() {
		var errs []error
		if s.registry != nil {
			s.registry.ShutdownAll()
		}
		if err := s.stopHTTPServers(); err != nil {
			errs = append(errs, err)
		}
		if err := s.runClosers(); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
		s.Logger.Info("Service stopped", nil)
	})
	return s.shutdownErr
}

// runClosers releases resources in reverse acquisition order.
func (s *Service) runClosers() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func transportCloser(tr transportpkg.Transport) func() error {
	return func() error {
		var errs []error
		if tr.Publisher != nil {
			if err := tr.Publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close publisher: %w", err))
			}
		}
		if tr.Subscriber != nil {
			if err := tr.Subscriber.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close subscriber: %w", err))
			}
		}
		if tr.Cleanup != nil {
			if err := tr.Cleanup(); err != nil {
				errs = append(errs, fmt.Errorf("transport cleanup: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}

// RegisterHTTPHandler mounts handler on the server listening on port. Call it
// before Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpMuxes == nil {
		s.httpMuxes = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpMuxes[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpMuxes {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.httpServers = append(s.httpServers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers() error {
	s.httpServersMu.Lock()
	servers := s.httpServers
	s.httpServers = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop HTTP server %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
