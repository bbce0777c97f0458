package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkravets/credwallet/internal/storage"
)

// CacheEntry is the payload stored in the cache partition. Key and Expires
// are duplicated into the payload because the cache partition indexes them.
type CacheEntry struct {
	Key string `json:"key"`
	// Data is the cached blob.
	Data json.RawMessage `json:"data"`
	// Tags label the entry for grouped invalidation.
	Tags []string `json:"tags,omitempty"`
	// Expires is the unix-millisecond expiry, or zero for no expiry.
	Expires int64 `json:"expires,omitempty"`
}

// CacheOptions carries optional cache write parameters.
type CacheOptions struct {
	TTL  time.Duration
	Tags []string
}

// SetCache stores non-authoritative derived data under key.
func (s *Service) SetCache(ctx context.Context, key string, data any, opts CacheOptions) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", key, err)
	}
	entry := CacheEntry{Key: key, Data: raw, Tags: opts.Tags}
	if opts.TTL > 0 {
		entry.Expires = time.Now().Add(opts.TTL).UnixMilli()
	}
	return s.store.Set(ctx, storage.PartitionCache, key, entry, storage.SetOptions{TTL: opts.TTL})
}

// GetCache returns the cached blob for key, or nil when absent or expired.
func (s *Service) GetCache(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := s.store.Get(ctx, storage.PartitionCache, key)
	if err != nil {
		return nil, err
	}
	entry, err := decodeOne[CacheEntry](raw)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Data, nil
}

// CacheByTag returns the cache entries labeled with the given tag.
func (s *Service) CacheByTag(ctx context.Context, tag string) ([]CacheEntry, error) {
	raws, err := s.store.GetAll(ctx, storage.PartitionCache)
	if err != nil {
		return nil, err
	}
	var out []CacheEntry
	for _, entry := range decodeAll[CacheEntry](s.log, storage.PartitionCache, raws) {
		for _, t := range entry.Tags {
			if t == tag {
				out = append(out, entry)
				break
			}
		}
	}
	return out, nil
}

// ClearCache discards every cache entry.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.store.Clear(ctx, storage.PartitionCache)
}
