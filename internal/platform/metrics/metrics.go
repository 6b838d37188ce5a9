// Package metrics exposes Prometheus counters for split, lookup and report
// activity. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	splitsTotal    *prometheus.CounterVec
	splitPages     *prometheus.CounterVec
	lookupsTotal   *prometheus.CounterVec
	reportsTotal   *prometheus.CounterVec
	reportDuration prometheus.Histogram
	mergedPages    prometheus.Counter
}

// New registers the collectors, plus Go runtime and process metrics, on a
// private registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		splitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medreport_splits_total",
				Help: "Bulk document split passes by study and status",
			},
			[]string{"study", "status"},
		),
		splitPages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medreport_split_pages_total",
				Help: "Pages read during splits by study and result",
			},
			[]string{"study", "result"},
		),
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medreport_lookups_total",
				Help: "Study document lookups by study and outcome",
			},
			[]string{"study", "outcome"},
		),
		reportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medreport_reports_total",
				Help: "Report packets built by status",
			},
			[]string{"status"},
		),
		reportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medreport_report_duration_seconds",
				Help:    "Time to build one report packet",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		mergedPages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "medreport_merged_pages_total",
				Help: "Pages written into report packets",
			},
		),
	}
	c.registry.MustRegister(
		c.splitsTotal, c.splitPages, c.lookupsTotal,
		c.reportsTotal, c.reportDuration, c.mergedPages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveSplit(study, status string, matched, unmatched int) {
	if c == nil {
		return
	}
	c.splitsTotal.WithLabelValues(study, status).Inc()
	c.splitPages.WithLabelValues(study, "matched").Add(float64(matched))
	c.splitPages.WithLabelValues(study, "unmatched").Add(float64(unmatched))
}

func (c *Collector) ObserveLookup(study, outcome string) {
	if c == nil {
		return
	}
	c.lookupsTotal.WithLabelValues(study, outcome).Inc()
}

func (c *Collector) ObserveReport(status string, pages int, d time.Duration) {
	if c == nil {
		return
	}
	c.reportsTotal.WithLabelValues(status).Inc()
	c.reportDuration.Observe(d.Seconds())
	c.mergedPages.Add(float64(pages))
}
