// Package urlstore keeps the urls of created uploads keyed by fingerprint so
// an interrupted upload can be resumed later.
//
// Stores are last-write-wins: when two processes write the same fingerprint,
// the later write is kept.
package urlstore

import (
	"context"
	"sync"
)

// Store maps fingerprints to upload urls. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the url stored for fingerprint and whether there was one.
	Get(ctx context.Context, fingerprint string) (string, bool, error)
	// Set stores url for fingerprint, replacing any previous value.
	Set(ctx context.Context, fingerprint, url string) error
	// Delete removes fingerprint. Deleting a missing fingerprint is not an error.
	Delete(ctx context.Context, fingerprint string) error
}

// Memory is a Store living in process memory.
type Memory struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewMemory ...
func NewMemory() *Memory {
	return &Memory{urls: map[string]string{}}
}

// Get ...
func (m *Memory) Get(_ context.Context, fingerprint string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url, ok := m.urls[fingerprint]
	return url, ok, nil
}

// Set ...
func (m *Memory) Set(_ context.Context, fingerprint, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls[fingerprint] = url
	return nil
}

// Delete ...
func (m *Memory) Delete(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.urls, fingerprint)
	return nil
}
