// Package cache provides the staleness-aware read-through cache over
// remote collections. Entries are persisted in the record store so a
// process kill never empties the cache, and reads follow
// stale-while-revalidate: a stale entry is served immediately while a
// background refresh replaces it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/apperrors"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// refreshTimeout bounds one background refresh, detached from the
// triggering caller's context.
const refreshTimeout = 30 * time.Second

// Config bounds one collection's cache behavior.
type Config struct {
	// TTL is the validity window; entries past it are not served.
	TTL time.Duration
	// SyncInterval is the staleness window; entries past it are still
	// served but trigger a background refresh.
	SyncInterval time.Duration
}

// FetchFunc loads a collection from the remote backend.
type FetchFunc func(ctx context.Context) (interface{}, error)

// Store is the cache layer over the record store.
type Store struct {
	repo     *db.Repository
	defaults Config
	now      func() time.Time

	mu         sync.Mutex
	refreshing map[string]bool
	wg         sync.WaitGroup
}

// New creates a Store with the given default windows.
func New(repo *db.Repository, defaults Config) *Store {
	return &Store{
		repo:       repo,
		defaults:   defaults,
		now:        time.Now,
		refreshing: make(map[string]bool),
	}
}

// Key derives the deterministic cache key for an endpoint and its request
// parameters. Parameter order does not affect the key.
func Key(endpoint string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(endpoint))
	for _, name := range names {
		fmt.Fprintf(h, "|%s=%s", name, params[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for an endpoint and params, or nil on a miss.
// Validity is not checked here; callers that want the staleness contract
// use GetWithFallback.
func (s *Store) Get(ctx context.Context, endpoint string, params map[string]string) (*models.CacheEntry, error) {
	entry, err := s.repo.GetCacheEntry(ctx, Key(endpoint, params))
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabase, "read cache entry", err)
	}
	return entry, nil
}

// Set overwrites the entry with fetchedAt = lastSyncAt = now.
func (s *Store) Set(ctx context.Context, endpoint string, params map[string]string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalid, "encode cache value", err)
	}
	return s.put(ctx, endpoint, params, raw)
}

// GetWithFallback is the core read algorithm:
//
//  1. A valid, non-stale entry is returned immediately (fromCache=true).
//  2. A valid but stale entry is returned immediately AND a background
//     refresh is triggered; the caller is never blocked on the refresh.
//  3. Otherwise fetch runs synchronously, a success is cached and
//     returned with fromCache=false.
//
// A failed background refresh keeps the entry and stamps only its
// staleness timestamp, so a degraded backend is not hammered on every
// read within the same window.
func (s *Store) GetWithFallback(ctx context.Context, endpoint string, params map[string]string, fetch FetchFunc, cfg *Config) (json.RawMessage, bool, error) {
	windows := s.windows(cfg)
	key := Key(endpoint, params)

	entry, err := s.repo.GetCacheEntry(ctx, key)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, false, apperrors.Wrap(apperrors.CodeDatabase, "read cache entry", err)
	}

	if entry != nil && entry.Valid(windows.TTL, s.now()) {
		if entry.Stale(windows.SyncInterval, s.now()) {
			s.refreshAsync(endpoint, params, key, fetch)
		}
		return entry.Data, true, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInvalid, "encode fetched value", err)
	}
	if err := s.put(ctx, endpoint, params, raw); err != nil {
		// The fetched data is still good for the caller.
		logging.Error("failed to cache fetched collection", err, logging.Fields{"endpoint": endpoint})
	}
	return raw, false, nil
}

// Invalidate removes one entry. Used after authoritative writes.
func (s *Store) Invalidate(ctx context.Context, endpoint string, params map[string]string) error {
	if err := s.repo.DeleteCacheEntry(ctx, Key(endpoint, params)); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabase, "invalidate cache entry", err)
	}
	return nil
}

// ClearAll removes every entry whose endpoint starts with prefix; an
// empty prefix clears everything. Returns the number removed.
func (s *Store) ClearAll(ctx context.Context, prefix string) (int, error) {
	n, err := s.repo.ClearCacheEntries(ctx, prefix)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabase, "clear cache entries", err)
	}
	return n, nil
}

// refreshAsync starts at most one background refresh per key.
func (s *Store) refreshAsync(endpoint string, params map[string]string, key string, fetch FetchFunc) {
	s.mu.Lock()
	if s.refreshing[key] {
		s.mu.Unlock()
		return
	}
	s.refreshing[key] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, key)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		value, err := fetch(ctx)
		if err != nil {
			// Keep the stale data; only suppress immediate re-refresh.
			logging.Warn("background cache refresh failed", logging.Fields{
				"endpoint": endpoint,
				"reason":   err.Error(),
			})
			if touchErr := s.repo.TouchCacheLastSync(ctx, key, s.now().UnixMilli()); touchErr != nil {
				logging.Error("failed to stamp cache staleness", touchErr, logging.Fields{"endpoint": endpoint})
			}
			return
		}

		raw, err := json.Marshal(value)
		if err != nil {
			logging.Error("refreshed collection does not encode", err, logging.Fields{"endpoint": endpoint})
			return
		}
		if err := s.put(ctx, endpoint, params, raw); err != nil {
			logging.Error("failed to store refreshed collection", err, logging.Fields{"endpoint": endpoint})
		}
	}()
}

func (s *Store) put(ctx context.Context, endpoint string, params map[string]string, raw json.RawMessage) error {
	now := s.now().UnixMilli()
	entry := &models.CacheEntry{
		Key:        Key(endpoint, params),
		Endpoint:   endpoint,
		Data:       raw,
		FetchedAt:  now,
		LastSyncAt: now,
	}
	if err := s.repo.UpsertCacheEntry(ctx, entry); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabase, "write cache entry", err)
	}
	return nil
}

func (s *Store) windows(cfg *Config) Config {
	windows := s.defaults
	if cfg != nil {
		if cfg.TTL > 0 {
			windows.TTL = cfg.TTL
		}
		if cfg.SyncInterval > 0 {
			windows.SyncInterval = cfg.SyncInterval
		}
	}
	return windows
}

// Decode unmarshals cached collection bytes into a concrete type.
func Decode[T any](raw json.RawMessage) (T, error) {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("decode cached value: %w", err)
	}
	return value, nil
}
