package logregistry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusBackend exposes every sample as a GaugeVec labeled by key,
// one vector per registered source name, served over promhttp
// (grounded on grimne-thermia_exporter's descriptor-set collector and
// danielkucera-gofutura's promhttp.Handler wiring, simplified from a
// custom prometheus.Collector into ordinary GaugeVecs since this
// registry already owns its own pull loop).
type PrometheusBackend struct {
	registry *prometheus.Registry
	addr     string
	server   *http.Server

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

// NewPrometheusBackend creates a backend that will serve /metrics on
// addr once Online is called.
func NewPrometheusBackend(addr string) *PrometheusBackend {
	return &PrometheusBackend{
		registry: prometheus.NewRegistry(),
		addr:     addr,
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// Create registers a GaugeVec for name, labeled by key.
func (b *PrometheusBackend) Create(name string, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.gauges[name]; ok {
		return nil
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hvac_plant",
		Name:      name,
	}, []string{"key"})
	if err := b.registry.Register(gv); err != nil {
		return err
	}
	b.gauges[name] = gv
	return nil
}

// Update sets the gauge value for each key in the sample.
func (b *PrometheusBackend) Update(name string, sample Sample) error {
	b.mu.Lock()
	gv, ok := b.gauges[name]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	for i, key := range sample.Keys {
		if i >= len(sample.Values) {
			break
		}
		gv.WithLabelValues(key).Set(sample.Values[i])
	}
	return nil
}

// Online starts the /metrics HTTP server.
func (b *PrometheusBackend) Online() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	b.server = &http.Server{Addr: b.addr, Handler: mux}
	go func() { _ = b.server.ListenAndServe() }()
	return nil
}

// Offline shuts down the /metrics HTTP server.
func (b *PrometheusBackend) Offline() error {
	if b.server == nil {
		return nil
	}
	return b.server.Close()
}
