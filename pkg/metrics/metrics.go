package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Acquisition paths used as the "path" label.
const (
	PathSilent      = "silent"
	PathInteractive = "interactive"
)

var (
	// Outcome label is one of success, interaction_required or an error kind
	// name such as provider_failure.
	Acquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcoord_acquisitions_total",
		Help: "Total number of token acquisitions grouped by path and outcome",
	}, []string{"path", "outcome"})
	AcquisitionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authcoord_acquisition_duration_seconds",
		Help:    "Duration of token acquisitions including user interaction",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 10),
	}, []string{"path"})
	InteractiveInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authcoord_interactive_in_flight",
		Help: "Number of interactive flows currently presenting UI",
	})
	SignOutRemovals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcoord_signout_removals_total",
		Help: "Per-account removals attempted during sign-out",
	}, []string{"result"})

	// Broker metrics
	BrokerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcoord_broker_requests_total",
		Help: "Total number of token broker requests grouped by route and status code",
	}, []string{"route", "code"})
	BrokerRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcoord_broker_rate_limited_total",
		Help: "Total number of broker requests rejected by the rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(Acquisitions)
	prometheus.MustRegister(AcquisitionDuration)
	prometheus.MustRegister(InteractiveInFlight)
	prometheus.MustRegister(SignOutRemovals)
	prometheus.MustRegister(BrokerRequests)
	prometheus.MustRegister(BrokerRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
