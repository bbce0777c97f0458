// Package storage provides durable, partitioned key-value storage for the
// wallet, with secondary indices and per-item TTL expiry.
//
// The primary backend keeps data in a bbolt file. When the file cannot be
// opened (missing directory permissions, another process holding the lock),
// the engine transparently falls back to an in-memory store so the
// application keeps working in a degraded, non-durable mode.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Partition names. The set is fixed; Init declares all of them.
const (
	PartitionCredentials = "credentials"
	PartitionHandshake   = "handshake"
	PartitionProfile     = "profile"
	PartitionCache       = "cache"
	PartitionSync        = "sync"
)

// Partitions lists every partition the engine manages.
var Partitions = []string{
	PartitionCredentials,
	PartitionHandshake,
	PartitionProfile,
	PartitionCache,
	PartitionSync,
}

// partitionIndices declares the indexed payload fields per partition.
// Both backends filter queries on these fields of the domain payload,
// so the two paths always agree on results.
var partitionIndices = map[string][]string{
	PartitionCredentials: {"type", "status", "issuer", "timestamp"},
	PartitionHandshake:   {"status", "requester", "timestamp"},
	PartitionCache:       {"key", "expires"},
}

// StoredItem is the envelope wrapped around every persisted payload.
type StoredItem struct {
	// ID is unique within the item's partition.
	ID string `json:"id"`
	// Data is the domain payload, opaque to the engine.
	Data json.RawMessage `json:"data"`
	// Timestamp is the write time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Version starts at 1 and is incremented by the writer on updates.
	Version int64 `json:"version"`
	// TTL is an optional lifetime in milliseconds; zero means no expiry.
	TTL int64 `json:"ttl,omitempty"`
}

// Expired reports whether the item's TTL has elapsed at the given time.
func (it *StoredItem) Expired(now time.Time) bool {
	return it.TTL > 0 && now.UnixMilli() > it.Timestamp+it.TTL
}

// SetOptions carries optional write parameters.
type SetOptions struct {
	// TTL sets an expiry on the item; zero means it never expires.
	TTL time.Duration
	// Version overrides the stored version; zero means version 1.
	Version int64
}

// QueryOptions carries pagination parameters, applied after TTL filtering.
type QueryOptions struct {
	Limit  int
	Offset int
}

// Stats describes the engine's contents for diagnostics.
type Stats struct {
	// Backend names the active backend ("bolt" or "memory").
	Backend string `json:"backend"`
	// Partitions lists the managed partition names.
	Partitions []string `json:"partitions"`
	// Items is the total item count across partitions.
	Items int `json:"items"`
	// PartitionItems is the item count per partition.
	PartitionItems map[string]int `json:"partitionItems"`
	// SizeBytes is the estimated serialized size of all items.
	SizeBytes int64 `json:"sizeBytes"`
}

// Engine is the storage abstraction shared by the bolt and memory backends.
//
// Reads never fail hard: Get returns (nil, nil) for absent or expired items,
// and backends degrade corrupt entries to empty results instead of errors.
// Write errors propagate to the caller.
type Engine interface {
	// Init prepares the backend and declares all partitions. Idempotent.
	Init(ctx context.Context) error
	// Set wraps data in a StoredItem and writes it, overwriting any
	// existing item with the same id.
	Set(ctx context.Context, partition, id string, data any, opts SetOptions) error
	// Get returns the payload for id, or nil if absent or expired.
	// An expired item is deleted as a side effect.
	Get(ctx context.Context, partition, id string) (json.RawMessage, error)
	// GetItem returns the full envelope for id, or nil if absent or expired.
	GetItem(ctx context.Context, partition, id string) (*StoredItem, error)
	// GetAll returns all non-expired payloads in the partition.
	GetAll(ctx context.Context, partition string) ([]json.RawMessage, error)
	// Query returns payloads whose indexed field equals value,
	// TTL-filtered, with pagination applied after filtering.
	Query(ctx context.Context, partition, field string, value any, opts QueryOptions) ([]json.RawMessage, error)
	// Delete removes one item. Deleting an absent id is not an error.
	Delete(ctx context.Context, partition, id string) error
	// Clear removes every item in the partition.
	Clear(ctx context.Context, partition string) error
	// Stats reports partition names, item counts and estimated size.
	Stats(ctx context.Context) (Stats, error)
	// Close releases backend resources.
	Close() error
}

// Store is the Engine handed to the rest of the application. It selects a
// backend once, on first use: bolt when the database file opens, the
// in-memory fallback otherwise. Callers never branch on which backend is
// active, and initialization failure of the primary is not surfaced.
type Store struct {
	path string
	log  *zap.Logger
	now  func() time.Time

	once    sync.Once
	backend Engine
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time source, used by tests to control TTL expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store persisting to the bolt database at path.
// The backend is not opened until Init or the first operation.
func NewStore(path string, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		path: path,
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init opens the backend. Concurrent callers share a single in-flight
// initialization; later calls are no-ops. Init never returns an error:
// if the bolt file cannot be opened the store silently switches to the
// in-memory fallback and reports itself initialized.
func (s *Store) Init(ctx context.Context) error {
	s.once.Do(func() {
		be := newBoltEngine(s.path, s.log, s.now)
		if err := be.Init(ctx); err != nil {
			s.log.Warn("primary storage unavailable, falling back to memory",
				zap.String("path", s.path), zap.Error(err))
			mem := newMemoryEngine(s.log, s.now)
			_ = mem.Init(ctx)
			s.backend = mem
			return
		}
		s.backend = be
	})
	return nil
}

// Backend reports the active backend name, initializing the store if needed.
func (s *Store) Backend(ctx context.Context) string {
	_ = s.Init(ctx)
	if _, ok := s.backend.(*boltEngine); ok {
		return "bolt"
	}
	return "memory"
}

func (s *Store) engine(ctx context.Context) Engine {
	_ = s.Init(ctx)
	return s.backend
}

// Set implements Engine.
func (s *Store) Set(ctx context.Context, partition, id string, data any, opts SetOptions) error {
	return s.engine(ctx).Set(ctx, partition, id, data, opts)
}

// Get implements Engine.
func (s *Store) Get(ctx context.Context, partition, id string) (json.RawMessage, error) {
	return s.engine(ctx).Get(ctx, partition, id)
}

// GetItem implements Engine.
func (s *Store) GetItem(ctx context.Context, partition, id string) (*StoredItem, error) {
	return s.engine(ctx).GetItem(ctx, partition, id)
}

// GetAll implements Engine.
func (s *Store) GetAll(ctx context.Context, partition string) ([]json.RawMessage, error) {
	return s.engine(ctx).GetAll(ctx, partition)
}

// Query implements Engine.
func (s *Store) Query(ctx context.Context, partition, field string, value any, opts QueryOptions) ([]json.RawMessage, error) {
	return s.engine(ctx).Query(ctx, partition, field, value, opts)
}

// Delete implements Engine.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	return s.engine(ctx).Delete(ctx, partition, id)
}

// Clear implements Engine.
func (s *Store) Clear(ctx context.Context, partition string) error {
	return s.engine(ctx).Clear(ctx, partition)
}

// Stats implements Engine.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	return s.engine(ctx).Stats(ctx)
}

// Close implements Engine.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// newItem builds the envelope written by both backends.
func newItem(id string, data any, opts SetOptions, now time.Time) (*StoredItem, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %q: %w", id, err)
	}
	version := opts.Version
	if version == 0 {
		version = 1
	}
	return &StoredItem{
		ID:        id,
		Data:      raw,
		Timestamp: now.UnixMilli(),
		Version:   version,
		TTL:       opts.TTL.Milliseconds(),
	}, nil
}

// indexValue canonicalizes a payload field value for index comparison,
// so both backends match values the same way regardless of JSON number
// representation.
func indexValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%v", x)
	case int:
		return fmt.Sprintf("%v", float64(x))
	case int64:
		return fmt.Sprintf("%v", float64(x))
	case bool:
		return fmt.Sprintf("%v", x)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(raw)
	}
}

// payloadField extracts a top-level field from the domain payload.
// Returns ok=false when the payload is not an object or lacks the field.
func payloadField(data json.RawMessage, field string) (any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	v, ok := obj[field]
	return v, ok
}

// paginate applies QueryOptions to an already-filtered result set.
func paginate(items []json.RawMessage, opts QueryOptions) []json.RawMessage {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
