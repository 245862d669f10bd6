// Package lastgood caches the most recent successful payload of each feature
// call, keyed by feature name and city.
//
// When the retry budget of a remote call is exhausted, the feature layer
// prefers the last-known-good snapshot over its static baseline: stale real
// data beats a canned answer. Snapshots are stored as raw JSON so the cache
// never needs to know feature payload shapes.
package lastgood

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by [Store.Get] when no snapshot exists for the
// given feature and city.
var ErrNotFound = errors.New("lastgood: no snapshot")

// Snapshot is one cached feature payload.
type Snapshot struct {
	// Feature is the feature-call name, e.g. "pulse" or "city-lookup".
	Feature string

	// City the payload was produced for. Lower-cased on write so lookups are
	// case-insensitive.
	City string

	// Payload is the raw JSON body of the last successful call.
	Payload []byte

	// SavedAt is when the snapshot was written.
	SavedAt time.Time
}

// Store persists last-known-good snapshots.
//
// Implementations must be safe for concurrent use. Put failures must not
// break the calling feature: a snapshot is an optimization, not a dependency.
type Store interface {
	// Put saves payload as the current snapshot for (feature, city),
	// replacing any previous one.
	Put(ctx context.Context, feature, city string, payload []byte) error

	// Get returns the current snapshot for (feature, city), or [ErrNotFound].
	Get(ctx context.Context, feature, city string) (*Snapshot, error)

	// Close releases any underlying resources.
	Close()
}

// key normalizes a (feature, city) pair.
func key(feature, city string) (string, string) {
	return feature, strings.ToLower(strings.TrimSpace(city))
}

// MemoryStore is an in-process [Store]. It is the default when no database is
// configured and the backing store used in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[[2]string]*Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[[2]string]*Snapshot{}}
}

// Put implements [Store].
func (m *MemoryStore) Put(_ context.Context, feature, city string, payload []byte) error {
	feature, city = key(feature, city)
	snap := &Snapshot{
		Feature: feature,
		City:    city,
		Payload: append([]byte(nil), payload...),
		SavedAt: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[[2]string{feature, city}] = snap
	return nil
}

// Get implements [Store].
func (m *MemoryStore) Get(_ context.Context, feature, city string) (*Snapshot, error) {
	feature, city = key(feature, city)

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[[2]string{feature, city}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	cp.Payload = append([]byte(nil), snap.Payload...)
	return &cp, nil
}

// Close implements [Store].
func (m *MemoryStore) Close() {}
