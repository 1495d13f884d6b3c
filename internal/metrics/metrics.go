// ABOUTME: Prometheus registry for the bridge with per-scrape collectors.
// ABOUTME: Serves /metrics and adapts GaugeVecs to the GaugeSink interface.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric the bridge registers.
const Namespace = "coven_bridge"

// Config holds metrics endpoint configuration.
type Config struct {
	Enabled    bool     `yaml:"enabled" toml:"enabled"`
	Address    string   `yaml:"address" toml:"address"` // e.g. ":9090"
	Path       string   `yaml:"path" toml:"path"`
	AgePeriods []string `yaml:"age_periods" toml:"age_periods"`
}

// ApplyDefaults sets default values for metrics config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// Metrics owns a private registry. Collectors added with AddCollector run
// before every scrape so gauges reflect the state at scrape time.
type Metrics struct {
	cfg      Config
	registry *prometheus.Registry
	logger   *slog.Logger

	mu         sync.Mutex
	collectors []func()
}

// New creates a registry with the Go and process collectors registered.
func New(cfg Config, logger *slog.Logger) *Metrics {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		cfg:      cfg,
		registry: reg,
		logger:   logger.With("component", "metrics"),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NewGaugeVec creates and registers a gauge under the bridge namespace.
func (m *Metrics) NewGaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, labels)
	m.registry.MustRegister(g)
	return g
}

// AddCollector registers fn to run before each scrape.
func (m *Metrics) AddCollector(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors = append(m.collectors, fn)
}

// Refresh runs every registered collector.
func (m *Metrics) Refresh() {
	m.mu.Lock()
	fns := append([]func(){}, m.collectors...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Handler returns an http.Handler that refreshes collectors and then serves
// the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Refresh()
		inner.ServeHTTP(w, r)
	})
}

// Serve listens on the configured address until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(m.cfg.Path, m.Handler())

	srv := &http.Server{
		Addr:              m.cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("serving metrics", "addr", m.cfg.Address, "path", m.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// GaugeVecSink adapts a prometheus GaugeVec to GaugeSink.
type GaugeVecSink struct {
	Vec *prometheus.GaugeVec
}

// Set implements GaugeSink.
func (s GaugeVecSink) Set(labels map[string]string, value float64) {
	s.Vec.With(prometheus.Labels(labels)).Set(value)
}
