package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// memoryEngine is the fallback backend: a flat, ordered key-value map with
// keys of the form "partition/id". It serves the same Engine contract as
// the bolt backend, including payload-field query filtering, but nothing
// survives a process restart.
type memoryEngine struct {
	log *zap.Logger
	now func() time.Time

	mu    sync.RWMutex
	items map[string]*StoredItem
}

func newMemoryEngine(log *zap.Logger, now func() time.Time) *memoryEngine {
	return &memoryEngine{log: log, now: now}
}

func memKey(partition, id string) string {
	return partition + "/" + id
}

func (m *memoryEngine) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]*StoredItem)
	}
	return nil
}

func (m *memoryEngine) Set(ctx context.Context, partition, id string, data any, opts SetOptions) error {
	item, err := newItem(id, data, opts, m.now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memKey(partition, id)] = item
	return nil
}

func (m *memoryEngine) Get(ctx context.Context, partition, id string) (json.RawMessage, error) {
	item, err := m.GetItem(ctx, partition, id)
	if err != nil || item == nil {
		return nil, err
	}
	return item.Data, nil
}

func (m *memoryEngine) GetItem(ctx context.Context, partition, id string) (*StoredItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[memKey(partition, id)]
	if !ok {
		return nil, nil
	}
	if item.Expired(m.now()) {
		delete(m.items, memKey(partition, id))
		return nil, nil
	}
	return item, nil
}

// partitionKeys returns the sorted keys belonging to one partition.
// Callers must hold at least a read lock.
func (m *memoryEngine) partitionKeys(partition string) []string {
	prefix := partition + "/"
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *memoryEngine) GetAll(ctx context.Context, partition string) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []json.RawMessage
	for _, k := range m.partitionKeys(partition) {
		item := m.items[k]
		if item.Expired(m.now()) {
			delete(m.items, k)
			continue
		}
		out = append(out, item.Data)
	}
	return out, nil
}

func (m *memoryEngine) Query(ctx context.Context, partition, field string, value any, opts QueryOptions) ([]json.RawMessage, error) {
	want := indexValue(value)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []json.RawMessage
	for _, k := range m.partitionKeys(partition) {
		item := m.items[k]
		v, ok := payloadField(item.Data, field)
		if !ok || indexValue(v) != want {
			continue
		}
		if item.Expired(m.now()) {
			delete(m.items, k)
			continue
		}
		out = append(out, item.Data)
	}
	return paginate(out, opts), nil
}

func (m *memoryEngine) Delete(ctx context.Context, partition, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memKey(partition, id))
	return nil
}

func (m *memoryEngine) Clear(ctx context.Context, partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.partitionKeys(partition) {
		delete(m.items, k)
	}
	return nil
}

func (m *memoryEngine) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{
		Backend:        "memory",
		Partitions:     Partitions,
		PartitionItems: make(map[string]int, len(Partitions)),
	}
	for k, item := range m.items {
		partition, _, _ := strings.Cut(k, "/")
		stats.PartitionItems[partition]++
		stats.Items++
		stats.SizeBytes += int64(len(k) + len(item.Data))
	}
	return stats, nil
}

func (m *memoryEngine) Close() error {
	return nil
}
