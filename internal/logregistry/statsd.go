package logregistry

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

// StatsDBackend emits each sample key as a gauge "<name>.<key>",
// grounded on the teacher's internal/datadog.Gauge wrapper (namespace
// + static tags set once at construction, nil client tolerated).
type StatsDBackend struct {
	client    *statsd.Client
	namespace string
	tags      []string
}

// NewStatsDBackend dials addr; a dial failure logs a warning and
// yields a backend whose Update calls are no-ops, matching the
// teacher's "metrics are best-effort, never fatal" stance.
func NewStatsDBackend(addr, namespace string, tags []string) *StatsDBackend {
	client, err := statsd.New(addr)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("failed to create dogstatsd client")
		return &StatsDBackend{namespace: namespace, tags: tags}
	}
	client.Namespace = namespace
	client.Tags = tags
	return &StatsDBackend{client: client, namespace: namespace, tags: tags}
}

// Create is a no-op: statsd has no notion of schema registration.
func (b *StatsDBackend) Create(name string, keys []string) error { return nil }

// Update emits one gauge per key in the sample.
func (b *StatsDBackend) Update(name string, sample Sample) error {
	if b.client == nil {
		return nil
	}
	for i, key := range sample.Keys {
		if i >= len(sample.Values) {
			break
		}
		metric := fmt.Sprintf("%s.%s", name, key)
		if err := b.client.Gauge(metric, sample.Values[i], b.tags, 1); err != nil {
			return err
		}
	}
	return nil
}

// Online is a no-op; the statsd client is already usable once created.
func (b *StatsDBackend) Online() error { return nil }

// Offline closes the underlying client.
func (b *StatsDBackend) Offline() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
