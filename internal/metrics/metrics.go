// Package metrics collects and exposes Prometheus metrics for
// reconciliation and stream serving.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface used by the reconciler and the relay.
type Recorder interface {
	RecordScan(outcome string, duration time.Duration)
	RecordMappingsCreated(count int)
	RecordMappingsRemoved(count int)
	RecordStreamRequest(outcome string)
	RecordAttemptFailure(reason string)
	RecordHTTPStatus(statusCode int)
	RecordUpgrade()
	RelayStarted()
	RelayEnded()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	scans           *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	mappingsCreated prometheus.Counter
	mappingsRemoved prometheus.Counter
	streamRequests  *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	upgrades        prometheus.Counter
	activeRelays    prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_scans_total",
			Help: "Reconciliation passes by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamvault_scan_duration_seconds",
			Help:    "Duration of reconciliation passes.",
			Buckets: prometheus.DefBuckets,
		}),
		mappingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_mappings_created_total",
			Help: "Mappings created by reconciliation.",
		}),
		mappingsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_mappings_removed_total",
			Help: "Mappings removed by reconciliation.",
		}),
		streamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_stream_requests_total",
			Help: "Stream requests by outcome.",
		}, []string{"outcome"}),
		attemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_attempt_failures_total",
			Help: "Candidate attempt failures by reason.",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_upstream_http_status_total",
			Help: "Upstream responses by HTTP status code.",
		}, []string{"status_code"}),
		upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_quality_upgrades_total",
			Help: "Successful transparent quality upgrades.",
		}),
		activeRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamvault_active_relays",
			Help: "Relays currently serving.",
		}),
	}

	reg.MustRegister(
		c.scans,
		c.scanDuration,
		c.mappingsCreated,
		c.mappingsRemoved,
		c.streamRequests,
		c.attemptFailures,
		c.httpStatus,
		c.upgrades,
		c.activeRelays,
	)
	return c
}

func (c *Collector) RecordScan(outcome string, duration time.Duration) {
	c.scans.WithLabelValues(outcome).Inc()
	c.scanDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordMappingsCreated(count int) {
	c.mappingsCreated.Add(float64(count))
}

func (c *Collector) RecordMappingsRemoved(count int) {
	c.mappingsRemoved.Add(float64(count))
}

func (c *Collector) RecordStreamRequest(outcome string) {
	c.streamRequests.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordAttemptFailure(reason string) {
	c.attemptFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordUpgrade() {
	c.upgrades.Inc()
}

func (c *Collector) RelayStarted() { c.activeRelays.Inc() }
func (c *Collector) RelayEnded()   { c.activeRelays.Dec() }

// Handler returns the scrape endpoint handler for a registry created
// alongside the Collector.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything. Used in tests and when
// metrics are disabled.
type Nop struct{}

func (Nop) RecordScan(string, time.Duration) {}
func (Nop) RecordMappingsCreated(int)        {}
func (Nop) RecordMappingsRemoved(int)        {}
func (Nop) RecordStreamRequest(string)       {}
func (Nop) RecordAttemptFailure(string)      {}
func (Nop) RecordHTTPStatus(int)             {}
func (Nop) RecordUpgrade()                   {}
func (Nop) RelayStarted()                    {}
func (Nop) RelayEnded()                      {}
