// Package cache provides a read-through TTL cache around a rotation.SecretStore.
//
// Cache semantics:
//   - GetSecretValue results are cached per (secret, version, stage) for the TTL
//   - DescribeSecret is never cached, stage labels always come from the store
//   - Writes pass through and drop every cached entry of the secret written
//   - The cache is in-process only
//
// Rotation steps must not read through this cache. The coordinator strips it
// with rotation.Uncached, which calls Unwrap.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/systmms/rotator/pkg/rotation"
)

// DefaultTTL bounds how stale a cached value may be.
const DefaultTTL = 1 * time.Hour

// Config contains configuration options for the cache.
type Config struct {
	// TTL is the cache time-to-live. Default: 1 hour.
	TTL time.Duration

	now func() time.Time
}

// WithTTL returns an option that sets the cache TTL.
func WithTTL(ttl time.Duration) func(*Config) {
	return func(cfg *Config) {
		if ttl > 0 {
			cfg.TTL = ttl
		}
	}
}

// WithClock returns an option that replaces the time source (for testing).
func WithClock(now func() time.Time) func(*Config) {
	return func(cfg *Config) {
		cfg.now = now
	}
}

type key struct {
	secretID  string
	versionID string
	stage     rotation.Stage
}

type entry struct {
	value     rotation.SecretValue
	expiresAt time.Time
}

// Store caches reads from an underlying store.
type Store struct {
	inner rotation.SecretStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[key]*entry

	hits   int
	misses int
}

// New wraps inner.
func New(inner rotation.SecretStore, options ...func(*Config)) *Store {
	cfg := &Config{TTL: DefaultTTL, now: time.Now}
	for _, opt := range options {
		opt(cfg)
	}
	return &Store{
		inner:   inner,
		ttl:     cfg.TTL,
		now:     cfg.now,
		entries: make(map[key]*entry),
	}
}

// Unwrap returns the underlying store.
func (s *Store) Unwrap() rotation.SecretStore {
	return s.inner
}

// TTL returns the configured staleness bound.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Stats returns the number of cache hits and misses so far.
func (s *Store) Stats() (hits, misses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits, s.misses
}

// DescribeSecret passes through to the underlying store.
func (s *Store) DescribeSecret(ctx context.Context, secretID string) (*rotation.Metadata, error) {
	return s.inner.DescribeSecret(ctx, secretID)
}

// GetSecretValue returns a cached value if available and not expired,
// otherwise fetches from the underlying store. Errors are not cached.
func (s *Store) GetSecretValue(ctx context.Context, secretID, versionID string, stage rotation.Stage) (rotation.SecretValue, error) {
	k := key{secretID: secretID, versionID: versionID, stage: stage}

	s.mu.RLock()
	cached, ok := s.entries[k]
	s.mu.RUnlock()
	if ok && s.now().Before(cached.expiresAt) {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return cached.value.Clone(), nil
	}

	value, err := s.inner.GetSecretValue(ctx, secretID, versionID, stage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.misses++
	s.entries[k] = &entry{value: value.Clone(), expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

// PutSecretValue writes through and invalidates the secret.
func (s *Store) PutSecretValue(ctx context.Context, secretID, token string, value rotation.SecretValue, stages []rotation.Stage) error {
	defer s.Invalidate(secretID)
	return s.inner.PutSecretValue(ctx, secretID, token, value, stages)
}

// UpdateVersionStage writes through and invalidates the secret.
func (s *Store) UpdateVersionStage(ctx context.Context, secretID string, stage rotation.Stage, moveTo, removeFrom string) error {
	defer s.Invalidate(secretID)
	return s.inner.UpdateVersionStage(ctx, secretID, stage, moveTo, removeFrom)
}

// GenerateRandomValue passes through to the underlying store.
func (s *Store) GenerateRandomValue(ctx context.Context, policy rotation.PasswordPolicy) (string, error) {
	return s.inner.GenerateRandomValue(ctx, policy)
}

// Invalidate drops every cached entry for secretID. ARNs and names are
// treated as distinct keys, so a write by name also drops entries cached by
// an ARN ending in that name.
func (s *Store) Invalidate(secretID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if k.secretID == secretID || strings.HasSuffix(k.secretID, ":"+secretID) || strings.HasSuffix(secretID, ":"+k.secretID) {
			delete(s.entries, k)
		}
	}
}

// Flush drops every cached entry.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[key]*entry)
}
