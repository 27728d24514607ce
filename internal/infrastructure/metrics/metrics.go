package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-otp-accounts/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "otp_accounts"

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Recorder owns a private registry with the verification counters and the
// HTTP request metrics. It satisfies otp.Observer.
type Recorder struct {
	registry *prometheus.Registry

	challengesIssued prometheus.Counter
	verifyOutcomes   *prometheus.CounterVec
	deliveries       *prometheus.CounterVec

	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		challengesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "otp",
			Name:      "challenges_issued_total",
			Help:      "Challenges committed to storage",
		}),
		verifyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "otp",
			Name:      "verify_total",
			Help:      "Verification attempts by outcome",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "otp",
			Name:      "deliveries_total",
			Help:      "Code deliveries by dispatcher result",
		}, []string{"status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.challengesIssued, r.verifyOutcomes, r.deliveries,
		r.requestTotal, r.requestLatency, r.rateLimitHits,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ChallengeIssued() { r.challengesIssued.Inc() }

func (r *Recorder) VerifyOutcome(outcome string) {
	r.verifyOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Delivery(status domain.DeliveryStatus) {
	r.deliveries.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) ObserveRequest(method, route string, status int, d time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(d.Seconds())
}

func (r *Recorder) RateLimited(route string) {
	r.rateLimitHits.WithLabelValues(route).Inc()
}
