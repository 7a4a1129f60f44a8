package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	"github.com/drblury/tagflow/internal/runtime/mq"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// SubscriptionStats aggregates the outcomes of one subscription's listener.
type SubscriptionStats struct {
	mu sync.Mutex
	StatsSnapshot

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

// StatsSnapshot is a point-in-time copy of SubscriptionStats.
type StatsSnapshot struct {
	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesCommitted   uint64    `json:"messages_committed"`
	MessagesRetried     uint64    `json:"messages_retried"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Backlog    BacklogMetrics    `json:"backlog"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

// ErrorBreakdown counts failed deliveries per ErrorCategory.
type ErrorBreakdown struct {
	Decode    uint64 `json:"decode"`
	Handler   uint64 `json:"handler"`
	Panic     uint64 `json:"panic"`
	Timeout   uint64 `json:"timeout"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

// BacklogMetrics tracks listener concurrency and how far behind the
// subscription runs, measured from the messages' born timestamps.
type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	LastReconsumeTimes int    `json:"last_reconsume_times"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

type ErrorCategory string

const (
	ErrorCategoryNone    ErrorCategory = "none"
	ErrorCategoryDecode  ErrorCategory = "decode"
	ErrorCategoryHandler ErrorCategory = "handler"
	ErrorCategoryPanic   ErrorCategory = "panic"
	ErrorCategoryTimeout ErrorCategory = "timeout"
	ErrorCategoryOther   ErrorCategory = "other"
)

// ErrorClassifier maps a listener failure to a stats category.
type ErrorClassifier func(error) ErrorCategory

func newSubscriptionStats() *SubscriptionStats {
	return &SubscriptionStats{
		StatsSnapshot:    StatsSnapshot{Backlog: BacklogMetrics{EstimatedLagMillis: -1}},
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

type invocation struct {
	start   time.Time
	lagMs   int64
	retries int
}

func (s *SubscriptionStats) onMessageStart(env *mq.Envelope) invocation {
	now := time.Now()
	inv := invocation{start: now, lagMs: -1}
	if env != nil {
		inv.retries = env.ReconsumeTimes
		if !env.BornAt.IsZero() {
			inv.lagMs = max(now.Sub(env.BornAt).Milliseconds(), 0)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Backlog.InFlight++
	if s.Backlog.InFlight > s.Backlog.MaxInFlight {
		s.Backlog.MaxInFlight = s.Backlog.InFlight
	}
	return inv
}

func (s *SubscriptionStats) onMessageFinish(inv invocation, err error, classifier ErrorClassifier) {
	now := time.Now()
	duration := now.Sub(inv.start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Backlog.InFlight > 0 {
		s.Backlog.InFlight--
	}
	if inv.lagMs >= 0 {
		s.Backlog.EstimatedLagMillis = inv.lagMs
	}
	s.Backlog.LastReconsumeTimes = inv.retries

	s.MessagesProcessed++
	if err != nil {
		s.MessagesRetried++
	} else {
		s.MessagesCommitted++
	}
	s.TotalProcessingTime += int64(duration)
	s.LastProcessedAt = now.UTC()

	s.latencyWindow.Add(duration)
	latency := s.latencyWindow.Snapshot()
	latency.AverageNs = s.TotalProcessingTime / int64(s.MessagesProcessed)
	s.Latency = latency

	tp := s.throughputWindow.AddAndSnapshot(now)
	s.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
		TotalMessages:    s.MessagesProcessed,
	}

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	s.Errors.Record(classifier(err), err)
}

// Snapshot returns a copy safe to read without locking.
func (s *SubscriptionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StatsSnapshot
}

func (s *SubscriptionStats) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(s.Snapshot())
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryDecode:
		e.Decode++
	case ErrorCategoryHandler:
		e.Handler++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryTimeout:
		e.Timeout++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	if tferrors.IsDecodeError(err) {
		return ErrorCategoryDecode
	}
	if tferrors.IsPanic(err) {
		return ErrorCategoryPanic
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	var handlerErr *tferrors.HandlerError
	if errors.As(err, &handlerErr) {
		return ErrorCategoryHandler
	}
	return ErrorCategoryOther
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last, SampleSize: lw.filled}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, 0, lw.filled)
	if lw.filled < len(lw.samples) {
		samples = append(samples, lw.samples[:lw.filled]...)
	} else {
		samples = append(samples, lw.samples...)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

// percentile interpolates linearly between the two closest ranks.
func percentile(sorted []int64, quantile float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case quantile <= 0:
		return sorted[0]
	case quantile >= 1:
		return sorted[len(sorted)-1]
	}
	pos := quantile * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	drop := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	tw.samples = append(tw.samples[:0], tw.samples[drop:]...)

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
