// Package metrics exposes Prometheus metrics of forge operations.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/safe-forge/interfaces"
)

// Registry holds every collector served by MetricsServer.
var Registry = prometheus.NewRegistry()

var (
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "operations_total",
		Help:      "Forge operations by name and outcome.",
	}, []string{"operation", "outcome"})

	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forge",
		Name:      "operation_duration_seconds",
		Help:      "Latency of forge operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	sinkFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "event_sink_failures_total",
		Help:      "Generation events that a sink failed to publish.",
	}, []string{"sink"})

	archiveFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "archive_failures_total",
		Help:      "Failed writes to the content archive.",
	}, []string{"content_type"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		operationsTotal,
		operationDuration,
		sinkFailuresTotal,
		archiveFailuresTotal,
	)
}

// Outcome labels an operation result: "ok", the wire code of a forge error,
// or "error" for anything else.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var fe *interfaces.ForgeError
	if errors.As(err, &fe) {
		return strconv.FormatUint(uint64(fe.Code()), 10)
	}
	return "error"
}

// RecordOperation counts one operation and observes its latency.
func RecordOperation(operation string, err error, took time.Duration) {
	operationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(took.Seconds())
}

func RecordSinkFailure(sink string) {
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

func RecordArchiveFailure(contentType interfaces.ContentType) {
	archiveFailuresTotal.WithLabelValues(contentType.String()).Inc()
}

// MetricsServer serves /metrics on a dedicated listener.
type MetricsServer struct {
	*http.Server
}

// New creates a metrics server. The namespace is added as a constant
// "service" label on the build info gauge.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "forge",
		Name:        "build_info",
		Help:        "Constant 1, labelled with the service name.",
		ConstLabels: prometheus.Labels{"service": namespace},
	})
	buildInfo.Set(1)
	if err := Registry.Register(buildInfo); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	return &MetricsServer{
		Server: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}
