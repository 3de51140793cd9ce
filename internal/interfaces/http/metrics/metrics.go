// Package metrics exposes the admin API's request counters and latency
// histogram on a dedicated Prometheus registry, grounded on the pack's
// HealthLogger pattern (one private registry per process, not the global
// default one) rather than the global DefaultRegisterer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the process's Prometheus collectors and the HTTP handler
// that serves them.
type Registry struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewayd_http_requests_total",
			Help: "Total admin API requests by method, path, and status",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatewayd_http_request_duration_seconds",
			Help:    "Admin API request latency by method and path",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(r.requestsTotal, r.requestDuration)
	return r
}

// Middleware records every request's method/path/status/latency.
func (r *Registry) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		elapsed := time.Since(start).Seconds()
		r.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		r.requestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed)
	}
}

// Handler returns the gin handler that serves the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
