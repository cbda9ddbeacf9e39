// Package metrics exposes context cache and reply outcome metrics in
// Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai-companion/internal/contextcache"
)

const namespace = "companion"

// CacheSource is the read side of the context cache.
type CacheSource interface {
	Stats() contextcache.Stats
	EstimateMemoryUsage() int64
}

// CacheCollector snapshots cache statistics at scrape time.
type CacheCollector struct {
	src CacheSource

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	errors    *prometheus.Desc
	entries   *prometheus.Desc
	hitRatio  *prometheus.Desc
	memory    *prometheus.Desc
}

func NewCacheCollector(src CacheSource) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "context_cache", name), help, nil, nil)
	}
	return &CacheCollector{
		src:       src,
		hits:      desc("hits_total", "Context cache lookups served from the cache."),
		misses:    desc("misses_total", "Context cache lookups that had to rebuild the context."),
		evictions: desc("evictions_total", "Entries removed because they expired or the cache was full."),
		errors:    desc("errors_total", "Failures while serving or filling the context cache."),
		entries:   desc("entries", "Entries currently stored."),
		hitRatio:  desc("hit_ratio", "Hits divided by total lookups."),
		memory:    desc("memory_bytes", "Approximate bytes held by live entries."),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.errors
	ch <- c.entries
	ch <- c.hitRatio
	ch <- c.memory
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, s.HitRate)
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(c.src.EstimateMemoryUsage()))
}

// Reply outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
)

// ReplyRecorder counts generated replies by outcome and failure category.
type ReplyRecorder struct {
	replies *prometheus.CounterVec
}

func NewReplyRecorder() *ReplyRecorder {
	return &ReplyRecorder{
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies returned to users, by outcome and failure category.",
		}, []string{"outcome", "category"}),
	}
}

// Observe records one reply. category is "none" for successful replies.
func (r *ReplyRecorder) Observe(succeeded bool, category string) {
	if r == nil {
		return
	}
	outcome := OutcomeFallback
	if succeeded {
		outcome = OutcomeSuccess
		category = "none"
	}
	r.replies.WithLabelValues(outcome, category).Inc()
}

func (r *ReplyRecorder) Collector() prometheus.Collector { return r.replies }

// Registry bundles the collectors of one process.
type Registry struct {
	reg     *prometheus.Registry
	Replies *ReplyRecorder
}

// NewRegistry registers the cache collector, the reply counter and the Go
// runtime collectors on a fresh registry.
func NewRegistry(cache CacheSource) *Registry {
	reg := prometheus.NewRegistry()
	replies := NewReplyRecorder()
	reg.MustRegister(
		NewCacheCollector(cache),
		replies.Collector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg, Replies: replies}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
