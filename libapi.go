package tagflow

import (
	runtimepkg "github.com/drblury/tagflow/internal/runtime"
	"github.com/drblury/tagflow/internal/runtime/broker"
	codecpkg "github.com/drblury/tagflow/internal/runtime/codec"
	configpkg "github.com/drblury/tagflow/internal/runtime/config"
	errspkg "github.com/drblury/tagflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/tagflow/internal/runtime/handlers"
	idspkg "github.com/drblury/tagflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/tagflow/internal/runtime/metadata"
	"github.com/drblury/tagflow/internal/runtime/mq"
	transportpkg "github.com/drblury/tagflow/internal/runtime/transport"
	newtransport "github.com/drblury/tagflow/transport"
)

type (
	Config               = configpkg.Config
	ProducerConfig       = configpkg.ProducerConfig
	ConsumerConfig       = configpkg.ConsumerConfig
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	ServiceStatus        = runtimepkg.ServiceStatus
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Handler[T any]      = runtimepkg.Handler[T]
	HandlerFunc[T any]  = runtimepkg.HandlerFunc[T]
	Registration[T any] = runtimepkg.Registration[T]
	NameProvider        = runtimepkg.NameProvider
	NamesProvider       = runtimepkg.NamesProvider
	TagsProvider        = runtimepkg.TagsProvider
	Routing             = runtimepkg.Routing
	SubscriptionKey     = runtimepkg.SubscriptionKey
	SubscriptionInfo    = runtimepkg.SubscriptionInfo
	Registry            = runtimepkg.Registry
	RegistryOptions     = runtimepkg.RegistryOptions

	InvokeFunc             = runtimepkg.InvokeFunc
	Middleware             = runtimepkg.Middleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Producer   = runtimepkg.Producer
	SendOption = runtimepkg.SendOption

	Envelope        = mq.Envelope
	Action          = mq.Action
	Listener        = mq.Listener
	MessageModel    = mq.MessageModel
	Subscription    = mq.Subscription
	SendResult      = mq.SendResult
	SendCallback    = mq.SendCallback
	Consumer        = mq.Consumer
	ConsumerOptions = mq.ConsumerOptions
	ConsumerFactory = mq.ConsumerFactory
	ProducerClient  = mq.ProducerClient

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	SubscriptionStats  = runtimepkg.SubscriptionStats
	StatsSnapshot      = runtimepkg.StatsSnapshot
	ErrorClassifier    = runtimepkg.ErrorClassifier
	ErrorCategory      = runtimepkg.ErrorCategory
	DeliveryInfo       = runtimepkg.DeliveryInfo
	DeliveryHooks      = runtimepkg.DeliveryHooks
	DeadLetterSnapshot = runtimepkg.DeadLetterSnapshot
	DeadLetterObserver = broker.DeadLetterObserver
	ResourceUsage      = runtimepkg.ResourceUsage

	ConfigurationError    = errspkg.ConfigurationError
	ConfigValidationError = errspkg.ConfigValidationError
	DecodeError           = errspkg.DecodeError
	HandlerError          = errspkg.HandlerError
	SendError             = errspkg.SendError

	Capabilities      = transportpkg.Capabilities
	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
	GroupOptions      = newtransport.GroupOptions
)

const (
	Commit     = mq.Commit
	RetryLater = mq.RetryLater

	Clustering   = mq.Clustering
	Broadcasting = mq.Broadcasting

	PropertyCorrelationID = handlerpkg.PropertyCorrelationID
	PropertyTraceID       = handlerpkg.PropertyTraceID
	PropertySpanID        = handlerpkg.PropertySpanID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone    = runtimepkg.ErrorCategoryNone
	ErrorCategoryDecode  = runtimepkg.ErrorCategoryDecode
	ErrorCategoryHandler = runtimepkg.ErrorCategoryHandler
	ErrorCategoryPanic   = runtimepkg.ErrorCategoryPanic
	ErrorCategoryTimeout = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryOther   = runtimepkg.ErrorCategoryOther
)

var (
	NewService     = runtimepkg.NewService
	NewRegistry    = runtimepkg.NewRegistry
	NewProducer    = runtimepkg.NewProducer
	NewEnvelope    = runtimepkg.NewEnvelope
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	ExpandSubscriptions = runtimepkg.ExpandSubscriptions
	SubscriptionKeyFrom = runtimepkg.SubscriptionKeyFrom
	DeadLetterTopic     = mq.DeadLetterTopic
	ParseMessageModel   = mq.ParseMessageModel

	WithTag      = runtimepkg.WithTag
	WithKeys     = runtimepkg.WithKeys
	WithProperty = runtimepkg.WithProperty

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	DeliveryHooksMiddleware = runtimepkg.DeliveryHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	EnvelopeFrom  = handlerpkg.EnvelopeFrom
	LoggerFrom    = handlerpkg.LoggerFrom
	Properties    = handlerpkg.Properties
	CorrelationID = handlerpkg.CorrelationID

	GetCapabilities          = transportpkg.CapabilitiesOf
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = codecpkg.Marshal
	MarshalIndent = codecpkg.MarshalIndent
	Unmarshal     = codecpkg.Unmarshal
	Encode        = codecpkg.Encode

	ErrServiceRequired  = errspkg.ErrServiceRequired
	ErrRegistryClosed   = errspkg.ErrRegistryClosed
	ErrHandlerRequired  = errspkg.ErrHandlerRequired
	ErrProducerRequired = errspkg.ErrProducerRequired
	ErrTopicRequired    = errspkg.ErrTopicRequired
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired

	IsDecodeError = errspkg.IsDecodeError
	IsPanic       = errspkg.IsPanic

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewDiscardServiceLogger   = loggingpkg.NewDiscardServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// RegisterHandler starts one consumer per subscription key of reg.
func RegisterHandler[T any](svc *Service, reg Registration[T]) error {
	return runtimepkg.RegisterHandler(svc, reg)
}

// Register adds reg to a registry built without a Service.
func Register[T any](r *Registry, reg Registration[T]) error {
	return runtimepkg.Register(r, reg)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// DecodeAs decodes data into a new T using the tagflow codec.
func DecodeAs[T any](data []byte) (T, error) {
	return codecpkg.DecodeAs[T](data)
}
