// Package promrecorder exposes core.MetricsRecorder through Prometheus.
package promrecorder

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-wearables/core"
)

// Labels is the fixed label set every wearables series carries. Tags outside
// it are dropped; tenant ids are left out to keep cardinality bounded.
var Labels = []string{"operation", "status", "provider", "error_code", "job_id"}

// Recorder lazily registers one CounterVec or HistogramVec per metric name.
type Recorder struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

type Option func(*Recorder)

// WithBuckets overrides the millisecond histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func New(reg prometheus.Registerer, opts ...Option) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		registerer: reg,
		buckets:    prometheus.ExponentialBuckets(5, 2, 12),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	counter := r.counter(name)
	if counter == nil {
		return
	}
	counter.With(labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	histogram := r.histogram(name)
	if histogram == nil {
		return
	}
	histogram.With(labelValues(tags)).Observe(value)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	metric := MetricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metric]; ok {
		return existing
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metric,
		Help: "wearables counter " + strings.TrimSpace(name),
	}, Labels)
	if err := r.registerer.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	metric := MetricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metric]; ok {
		return existing
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metric,
		Help:    "wearables histogram " + strings.TrimSpace(name),
		Buckets: r.buckets,
	}, Labels)
	if err := r.registerer.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	r.histograms[metric] = vec
	return vec
}

// MetricName turns "wearables.connect_begin.total" into a valid Prometheus name.
func MetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_', ch == ':':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelValues(tags map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(Labels))
	for _, label := range Labels {
		out[label] = strings.TrimSpace(tags[label])
	}
	return out
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ core.MetricsRecorder = (*Recorder)(nil)
