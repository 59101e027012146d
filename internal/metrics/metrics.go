package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventfeed"

// Collector exposes Prometheus metrics for pipeline stages and the serve endpoint.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	stageOutcomes   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	extractionCalls *prometheus.CounterVec
	profileLookups  *prometheus.CounterVec
	corpus          *prometheus.GaugeVec
	lastRun         prometheus.Gauge

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// NewCollector registers all pipeline metrics on a private registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "post_outcomes_total",
			Help:      "Posts handled per stage, by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one stage pass over the datastore.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		extractionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "calls_total",
			Help:      "Billed extraction calls, by provider and result.",
		}, []string{"provider", "result"}),
		profileLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "profile_lookups_total",
			Help:      "Profile lookups, by source.",
		}, []string{"source"}),
		corpus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "posts",
			Help:      "Posts in the datastore at each progress stage.",
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last full run finished.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
	}

	for _, collector := range []prometheus.Collector{
		c.stageOutcomes,
		c.stageDuration,
		c.extractionCalls,
		c.profileLookups,
		c.corpus,
		c.lastRun,
		c.requestDuration,
		c.requestTotal,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// RecordOutcome counts one post reaching an outcome in a stage.
func (c *Collector) RecordOutcome(stage, outcome string) {
	if c == nil {
		return
	}
	c.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records the duration of a stage pass.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordExtraction counts one extraction call.
func (c *Collector) RecordExtraction(provider string, failed bool) {
	if c == nil {
		return
	}
	result := "success"
	if failed {
		result = "failure"
	}
	c.extractionCalls.WithLabelValues(provider, result).Inc()
}

// RecordProfileLookup counts a profile served from "cache" or "directory".
func (c *Collector) RecordProfileLookup(source string) {
	if c == nil {
		return
	}
	c.profileLookups.WithLabelValues(source).Inc()
}

// SetCorpus publishes a progress count.
func (c *Collector) SetCorpus(stage string, value int) {
	if c == nil {
		return
	}
	c.corpus.WithLabelValues(stage).Set(float64(value))
}

// MarkRunFinished stamps the end of a full pipeline run.
func (c *Collector) MarkRunFinished(at time.Time) {
	if c == nil {
		return
	}
	c.lastRun.Set(float64(at.Unix()))
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.status)
		c.requestTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
