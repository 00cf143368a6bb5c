// Package logregistry implements the logging backend contract (spec
// §2 row 14, §6): periodic pull from registered sources, routed to one
// or more pluggable backends (file, StatsD, Prometheus, MQTT in the
// original; this tree wires StatsD and Prometheus). A sample carries
// {keys[], values[] (integer|float), nvalues, interval}.
package logregistry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sample is one pull's worth of data from a registered Source.
type Sample struct {
	Keys     []string
	Values   []float64
	NValues  int
	Interval time.Duration
}

// Source is anything the registry can periodically pull from — a
// BModel, a circuit, a DHWT, a boiler, all expose their live values
// this way for logging.
type Source interface {
	Sample() Sample
}

// Backend is the logging backend contract (§6): create a named series
// from its key schema, push updates, and track online/offline like
// every other collaborator in this tree.
type Backend interface {
	Create(name string, keys []string) error
	Update(name string, sample Sample) error
	Online() error
	Offline() error
}

// Registry periodically pulls every registered Source and pushes the
// result to every registered Backend (grounded on the teacher's
// internal/datadog.Gauge + internal/notifications.Send "push to an
// external sink" shape, generalized into a pluggable Backend interface
// and a poll loop instead of two free functions called ad hoc).
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
	sources  map[string]Source
	interval time.Duration
}

// New creates a Registry that pulls every source once per interval.
func New(interval time.Duration) *Registry {
	return &Registry{sources: make(map[string]Source), interval: interval}
}

// AddBackend registers a backend with the registry. Call before Online.
func (r *Registry) AddBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, b)
}

// Register adds a named source and creates its series on every
// backend added so far, whether or not it is online yet.
func (r *Registry) Register(name string, keys []string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = src
	for _, b := range r.backends {
		if err := b.Create(name, keys); err != nil {
			log.Warn().Str("source", name).Err(err).Msg("logregistry backend create failed")
		}
	}
}

// Online brings every backend online.
func (r *Registry) Online() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if err := b.Online(); err != nil {
			return err
		}
	}
	return nil
}

// Offline takes every backend offline.
func (r *Registry) Offline() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if err := b.Offline(); err != nil {
			log.Warn().Err(err).Msg("logregistry backend offline failed")
		}
	}
	return nil
}

// Run pulls every registered source once per interval and fans each
// sample out to every backend, until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down log registry")
			return
		case <-ticker.C:
			r.pullAndPush()
		}
	}
}

func (r *Registry) pullAndPush() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, src := range r.sources {
		sample := src.Sample()
		sample.Interval = r.interval
		for _, b := range r.backends {
			if err := b.Update(name, sample); err != nil {
				log.Warn().Str("source", name).Err(err).Msg("logregistry backend update failed")
			}
		}
	}
}
