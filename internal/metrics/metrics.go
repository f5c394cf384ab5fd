package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_dispatches_total",
			Help: "Total number of dispatch calls by event type.",
		},
		[]string{"event_type"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_jobs_enqueued_total",
			Help: "Total number of delivery jobs enqueued.",
		},
		[]string{"kind"}, // initial, retry
	)

	EnqueueErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookline_enqueue_errors_total",
			Help: "Total number of delivery jobs that could not be enqueued.",
		},
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_attempts_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookline_attempt_latency_seconds",
			Help:    "Latency of delivery attempts by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_retries_total",
			Help: "Total number of scheduled retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	PermanentFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookline_permanent_failures_total",
			Help: "Total number of deliveries abandoned after the attempt ceiling.",
		},
	)

	DLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookline_dlq_total",
			Help: "Total number of dead letters published.",
		},
	)

	DeliveryLogErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookline_delivery_log_errors_total",
			Help: "Total number of delivery log writes that failed.",
		},
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_queue_jobs_total",
			Help: "Total number of queue records finished by final state.",
		},
		[]string{"state"}, // completed, failed
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookline_queue_depth",
			Help: "Number of queue records by state.",
		},
		[]string{"state"},
	)

	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookline_nsq_topic_depth",
			Help: "Messages held at NSQ topic level, not yet copied to any channel.",
		},
		[]string{"topic"},
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookline_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	NSQChannelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookline_nsq_channel_inflight",
			Help: "In-flight messages of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		DispatchesTotal,
		JobsEnqueuedTotal,
		EnqueueErrorsTotal,
		AttemptsTotal,
		AttemptLatency,
		RetriesTotal,
		PermanentFailuresTotal,
		DLQTotal,
		DeliveryLogErrorsTotal,
		QueueJobsTotal,
		QueueDepth,
		NSQTopicDepth,
		NSQChannelDepth,
		NSQChannelInFlight,
	)
}

func RecordDispatch(eventType string) {
	DispatchesTotal.WithLabelValues(eventType).Inc()
}

// RecordEnqueued counts a job; retry distinguishes scheduler-issued jobs from fresh dispatches
func RecordEnqueued(retry bool) {
	kind := "initial"
	if retry {
		kind = "retry"
	}
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

func RecordEnqueueError() {
	EnqueueErrorsTotal.Inc()
}

func RecordAttempt(outcome string, latency time.Duration) {
	AttemptsTotal.WithLabelValues(outcome).Inc()
	AttemptLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordPermanentFailure() {
	PermanentFailuresTotal.Inc()
}

func RecordDLQ() {
	DLQTotal.Inc()
}

func RecordDeliveryLogError() {
	DeliveryLogErrorsTotal.Inc()
}

func RecordQueueJob(state string) {
	QueueJobsTotal.WithLabelValues(state).Inc()
}

func SetQueueDepth(state string, n int64) {
	QueueDepth.WithLabelValues(state).Set(float64(n))
}

func SetNSQTopicDepth(topic string, n int64) {
	NSQTopicDepth.WithLabelValues(topic).Set(float64(n))
}

func SetNSQChannelDepth(topic, channel string, depth, inFlight int64) {
	NSQChannelDepth.WithLabelValues(topic, channel).Set(float64(depth))
	NSQChannelInFlight.WithLabelValues(topic, channel).Set(float64(inFlight))
}
