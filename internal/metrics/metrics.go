// Package metrics holds the Prometheus collectors shared by the server and
// the payment worker.
package metrics

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_queue_length",
			Help: "Clients waiting per event, sampled on enqueue",
		},
		[]string{"event_id"},
	)

	enqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_enqueued_total",
			Help: "New waiting room entries",
		},
		[]string{"event_id"},
	)

	granted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_granted_total",
			Help: "Pass tokens issued",
		},
		[]string{"event_id"},
	)

	statusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_status_polls_total",
			Help: "Status polls by outcome",
		},
		[]string{"event_id", "outcome"},
	)

	passValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pass_token_validations_total",
			Help: "Pass token validations by result",
		},
		[]string{"result"},
	)

	sagaEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_total",
			Help: "Saga events handled or published",
		},
		[]string{"topic", "outcome"},
	)

	authorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_authorizations_total",
			Help: "Gateway authorizations by result",
		},
		[]string{"result"},
	)

	authorizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_authorize_seconds",
			Help:    "Gateway authorization latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the token bucket",
		},
		[]string{"route"},
	)
)

// MaxEventLabels bounds the event_id series.  Event ids come from request
// paths, so ids past the limit share the OtherEvent label.
const (
	MaxEventLabels = 64
	OtherEvent     = "_other"
)

type labelSet struct {
	mu   sync.Mutex
	max  int
	seen map[string]struct{}
}

func newLabelSet(max int) *labelSet {
	return &labelSet{max: max, seen: make(map[string]struct{})}
}

func (s *labelSet) label(v string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[v]; ok {
		return v
	}
	if len(s.seen) >= s.max {
		return OtherEvent
	}
	s.seen[v] = struct{}{}
	return v
}

var eventLabels = newLabelSet(MaxEventLabels)

func QueueLength(eventID string, n int64) {
	queueLength.WithLabelValues(eventLabels.label(eventID)).Set(float64(n))
}

func Enqueued(eventID string) { enqueued.WithLabelValues(eventLabels.label(eventID)).Inc() }

func Granted(eventID string) { granted.WithLabelValues(eventLabels.label(eventID)).Inc() }

// StatusPoll records a poll outcome: admitted, waiting, not_queued or error.
func StatusPoll(eventID, outcome string) {
	statusPolls.WithLabelValues(eventLabels.label(eventID), outcome).Inc()
}

func PassValidation(ok bool) {
	if ok {
		passValidations.WithLabelValues("accepted").Inc()
		return
	}
	passValidations.WithLabelValues("rejected").Inc()
}

// SagaEvent records a handled or published event; outcome is free-form
// (handled, duplicate, dead_lettered, requeued, published, publish_failed).
func SagaEvent(topic, outcome string) { sagaEvents.WithLabelValues(topic, outcome).Inc() }

func Authorization(result string, took time.Duration) {
	authorizations.WithLabelValues(result).Inc()
	authorizeDuration.Observe(took.Seconds())
}

func RateLimited(route string) { rateLimited.WithLabelValues(route).Inc() }

// Handler exposes the default registry for echo.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
