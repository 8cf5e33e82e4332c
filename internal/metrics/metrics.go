// Package metrics exports pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for promotion, upload and rollback operations.
type Observer interface {
	RecordPromotion(duration time.Duration, items int, err error)
	RecordUpload(duration time.Duration, sizeBytes int64, err error)
	RecordRollback(kind string, err error)
}

// PrometheusObserver exports pipeline metrics to Prometheus.
type PrometheusObserver struct {
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	items       *prometheus.CounterVec
	uploadBytes prometheus.Counter
	rollbacks   *prometheus.CounterVec
}

// NewPrometheusObserver registers the pipeline collectors on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "blogmedia"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of promotion and upload operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed promotion and upload operations.",
		}, []string{"operation"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promoted_items_total",
			Help:      "Assets promoted into formal storage.",
		}, []string{"operation"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size uploaded to object storage.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_actions_total",
			Help:      "Compensating deletes executed, by action kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	collectors := []prometheus.Collector{o.duration, o.errors, o.items, o.uploadBytes, o.rollbacks}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register pipeline metric: %w", err)
		}
	}
	return o, nil
}

// RecordPromotion tracks a local promotion batch.
func (o *PrometheusObserver) RecordPromotion(duration time.Duration, items int, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("promote").Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues("promote").Inc()
		return
	}
	o.items.WithLabelValues("promote").Add(float64(items))
}

// RecordUpload tracks one remote upload.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("upload").Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues("upload").Inc()
		return
	}
	o.items.WithLabelValues("upload").Inc()
	o.uploadBytes.Add(float64(sizeBytes))
}

// RecordRollback tracks one compensating delete.
func (o *PrometheusObserver) RecordRollback(kind string, err error) {
	if o == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	o.rollbacks.WithLabelValues(kind, outcome).Inc()
}

type nopObserver struct{}

func (nopObserver) RecordPromotion(time.Duration, int, error) {}

func (nopObserver) RecordUpload(time.Duration, int64, error) {}

func (nopObserver) RecordRollback(string, error) {}

// Nop returns an observer that discards everything.
func Nop() Observer {
	return nopObserver{}
}

// OrNop returns o, or a no-op observer when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop()
	}
	if p, ok := o.(*PrometheusObserver); ok && p == nil {
		return Nop()
	}
	return o
}
