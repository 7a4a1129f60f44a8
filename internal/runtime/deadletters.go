package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tagflow/internal/runtime/mq"
)

// DeadLetterStats tracks messages the broker client moved to dead-letter
// topics. It implements broker.DeadLetterObserver.
type DeadLetterStats struct {
	mu     sync.RWMutex
	topics map[string]*DeadLetterTopicStats

	collectors *deadLetterCollectors
}

// DeadLetterTopicStats holds the counters of one dead-letter topic.
type DeadLetterTopicStats struct {
	Messages          uint64    `json:"messages"`
	OriginTopics      []string  `json:"origin_topics"`
	AvgReconsumeTimes float64   `json:"avg_reconsume_times"`
	LastMessageID     string    `json:"last_message_id"`
	FirstAt           time.Time `json:"first_at"`
	LastAt            time.Time `json:"last_at"`
}

// DeadLetterSnapshot is a point-in-time copy of DeadLetterStats.
type DeadLetterSnapshot struct {
	TotalMessages uint64                          `json:"total_messages"`
	Topics        map[string]DeadLetterTopicStats `json:"topics"`
	CollectedAt   time.Time                       `json:"collected_at"`
}

type deadLetterCollectors struct {
	messages  *prometheus.CounterVec
	reconsume *prometheus.HistogramVec
	age       *prometheus.HistogramVec
}

func newDeadLetterStats() *DeadLetterStats {
	return &DeadLetterStats{topics: make(map[string]*DeadLetterTopicStats)}
}

// register exports the stats as Prometheus collectors on reg.
func (d *DeadLetterStats) register(reg prometheus.Registerer) error {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "messages_total",
		Help:      "Messages moved to a dead-letter topic.",
	}, []string{"topic", "group"})
	reconsume := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "reconsume_times",
		Help:      "Failed deliveries before a message was dead-lettered.",
		Buckets:   []float64{1, 2, 3, 5, 10, 16, 32},
	}, []string{"group"})
	age := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "message_age_seconds",
		Help:      "Time between sending and dead-lettering a message.",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	}, []string{"group"})

	var err error
	if messages, err = registerOrReuse(reg, messages); err != nil {
		return err
	}
	if reconsume, err = registerOrReuse(reg, reconsume); err != nil {
		return err
	}
	if age, err = registerOrReuse(reg, age); err != nil {
		return err
	}

	d.mu.Lock()
	d.collectors = &deadLetterCollectors{messages: messages, reconsume: reconsume, age: age}
	d.mu.Unlock()
	return nil
}

func (d *DeadLetterStats) ObserveDeadLetter(env *mq.Envelope, group string, reconsumeTimes int) {
	now := time.Now()
	topic := mq.DeadLetterTopic(group)

	d.mu.Lock()
	defer d.mu.Unlock()

	stats, ok := d.topics[topic]
	if !ok {
		stats = &DeadLetterTopicStats{FirstAt: now}
		d.topics[topic] = stats
	}
	stats.Messages++
	stats.AvgReconsumeTimes += (float64(reconsumeTimes) - stats.AvgReconsumeTimes) / float64(stats.Messages)
	stats.LastAt = now
	if env != nil {
		stats.LastMessageID = env.ID
		stats.OriginTopics = appendUnique(stats.OriginTopics, env.Topic)
	}

	if d.collectors == nil {
		return
	}
	d.collectors.messages.WithLabelValues(topic, group).Inc()
	d.collectors.reconsume.WithLabelValues(group).Observe(float64(reconsumeTimes))
	if env != nil && !env.BornAt.IsZero() {
		d.collectors.age.WithLabelValues(group).Observe(now.Sub(env.BornAt).Seconds())
	}
}

// Snapshot copies the current counters.
func (d *DeadLetterStats) Snapshot() DeadLetterSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := DeadLetterSnapshot{
		Topics:      make(map[string]DeadLetterTopicStats, len(d.topics)),
		CollectedAt: time.Now(),
	}
	for topic, stats := range d.topics {
		cp := *stats
		cp.OriginTopics = append([]string(nil), stats.OriginTopics...)
		snap.Topics[topic] = cp
		snap.TotalMessages += stats.Messages
	}
	return snap
}

func appendUnique(values []string, v string) []string {
	if v == "" {
		return values
	}
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
