package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is a cached snapshot of a remote collection. Key is a
// deterministic hash of the endpoint name plus the request parameters;
// Endpoint is kept alongside it so prefix invalidation stays possible.
type CacheEntry struct {
	Key        string          `db:"key" json:"key"`
	Endpoint   string          `db:"endpoint" json:"endpoint"`
	Data       json.RawMessage `db:"data" json:"data"`
	FetchedAt  int64           `db:"fetched_at" json:"fetched_at"`
	LastSyncAt int64           `db:"last_sync_at" json:"last_sync_at"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// Valid reports whether the entry is still within its ttl at now.
func (e *CacheEntry) Valid(ttl time.Duration, now time.Time) bool {
	return now.UnixMilli()-e.FetchedAt < ttl.Milliseconds()
}

// Stale reports whether the entry is due for a background refresh at now.
// A stale entry is still served to callers while the refresh runs.
func (e *CacheEntry) Stale(syncInterval time.Duration, now time.Time) bool {
	return now.UnixMilli()-e.LastSyncAt >= syncInterval.Milliseconds()
}
