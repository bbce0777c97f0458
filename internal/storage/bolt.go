package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// boltEngine is the primary backend, persisting each partition to a bbolt
// bucket. Declared indices are maintained as separate buckets keyed by
// canonical field value plus item id, so equality queries avoid full scans.
type boltEngine struct {
	path string
	log  *zap.Logger
	now  func() time.Time
	db   *bbolt.DB
}

func newBoltEngine(path string, log *zap.Logger, now func() time.Time) *boltEngine {
	return &boltEngine{path: path, log: log, now: now}
}

// indexBucket names the index bucket for a partition field.
func indexBucket(partition, field string) []byte {
	return []byte("idx\x00" + partition + "\x00" + field)
}

// indexKey builds an index entry key; the NUL separator keeps distinct
// values from prefix-colliding.
func indexKey(value, id string) []byte {
	return []byte(value + "\x00" + id)
}

// Init opens the database file and declares all partition and index buckets.
func (b *boltEngine) Init(ctx context.Context) error {
	if b.db != nil {
		return nil
	}
	db, err := bbolt.Open(b.path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open bolt db at %s: %w", b.path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, p := range Partitions {
			if _, err := tx.CreateBucketIfNotExists([]byte(p)); err != nil {
				return fmt.Errorf("create bucket %s: %w", p, err)
			}
			for _, field := range partitionIndices[p] {
				if _, err := tx.CreateBucketIfNotExists(indexBucket(p, field)); err != nil {
					return fmt.Errorf("create index bucket %s.%s: %w", p, field, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	b.db = db
	b.log.Debug("opened bolt storage", zap.String("path", b.path))
	return nil
}

func (b *boltEngine) Set(ctx context.Context, partition, id string, data any, opts SetOptions) error {
	item, err := newItem(id, data, opts, b.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item %s/%s: %w", partition, id, err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		if err := b.unindex(tx, partition, bucket.Get([]byte(id))); err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), raw); err != nil {
			return fmt.Errorf("put %s/%s: %w", partition, id, err)
		}
		return b.index(tx, partition, item)
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", partition, id, err)
	}
	return nil
}

// index writes one entry per declared field present in the item's payload.
func (b *boltEngine) index(tx *bbolt.Tx, partition string, item *StoredItem) error {
	for _, field := range partitionIndices[partition] {
		v, ok := payloadField(item.Data, field)
		if !ok {
			continue
		}
		bucket := tx.Bucket(indexBucket(partition, field))
		if bucket == nil {
			continue
		}
		if err := bucket.Put(indexKey(indexValue(v), item.ID), []byte(item.ID)); err != nil {
			return fmt.Errorf("index %s.%s: %w", partition, field, err)
		}
	}
	return nil
}

// unindex removes the index entries of a previously stored item, given its
// raw envelope bytes. A nil or undecodable envelope is ignored.
func (b *boltEngine) unindex(tx *bbolt.Tx, partition string, raw []byte) error {
	if raw == nil {
		return nil
	}
	var old StoredItem
	if err := json.Unmarshal(raw, &old); err != nil {
		b.log.Warn("skipping index cleanup for corrupt item", zap.String("partition", partition), zap.Error(err))
		return nil
	}
	for _, field := range partitionIndices[partition] {
		v, ok := payloadField(old.Data, field)
		if !ok {
			continue
		}
		bucket := tx.Bucket(indexBucket(partition, field))
		if bucket == nil {
			continue
		}
		if err := bucket.Delete(indexKey(indexValue(v), old.ID)); err != nil {
			return fmt.Errorf("unindex %s.%s: %w", partition, field, err)
		}
	}
	return nil
}

func (b *boltEngine) Get(ctx context.Context, partition, id string) (json.RawMessage, error) {
	item, err := b.GetItem(ctx, partition, id)
	if err != nil || item == nil {
		return nil, err
	}
	return item.Data, nil
}

func (b *boltEngine) GetItem(ctx context.Context, partition, id string) (*StoredItem, error) {
	var item *StoredItem
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var it StoredItem
		if err := json.Unmarshal(raw, &it); err != nil {
			b.log.Warn("corrupt stored item", zap.String("partition", partition), zap.String("id", id), zap.Error(err))
			return nil
		}
		item = &it
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item != nil && item.Expired(b.now()) {
		if err := b.Delete(ctx, partition, id); err != nil {
			b.log.Warn("failed to delete expired item", zap.String("partition", partition), zap.String("id", id), zap.Error(err))
		}
		return nil, nil
	}
	return item, nil
}

func (b *boltEngine) GetAll(ctx context.Context, partition string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	var expired []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		return bucket.ForEach(func(k, v []byte) error {
			var it StoredItem
			if err := json.Unmarshal(v, &it); err != nil {
				b.log.Warn("skipping corrupt stored item", zap.String("partition", partition), zap.ByteString("id", k))
				return nil
			}
			if it.Expired(b.now()) {
				expired = append(expired, it.ID)
				return nil
			}
			out = append(out, it.Data)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	b.sweep(ctx, partition, expired)
	return out, nil
}

// sweep lazily deletes items observed expired during a read.
func (b *boltEngine) sweep(ctx context.Context, partition string, ids []string) {
	for _, id := range ids {
		if err := b.Delete(ctx, partition, id); err != nil {
			b.log.Warn("failed to sweep expired item", zap.String("partition", partition), zap.String("id", id), zap.Error(err))
		}
	}
}

func (b *boltEngine) Query(ctx context.Context, partition, field string, value any, opts QueryOptions) ([]json.RawMessage, error) {
	want := indexValue(value)
	indexed := false
	for _, f := range partitionIndices[partition] {
		if f == field {
			indexed = true
			break
		}
	}

	var out []json.RawMessage
	var expired []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}

		collect := func(raw []byte) {
			var it StoredItem
			if err := json.Unmarshal(raw, &it); err != nil {
				return
			}
			if v, ok := payloadField(it.Data, field); !ok || indexValue(v) != want {
				return
			}
			if it.Expired(b.now()) {
				expired = append(expired, it.ID)
				return
			}
			out = append(out, it.Data)
		}

		if indexed {
			idx := tx.Bucket(indexBucket(partition, field))
			if idx == nil {
				return fmt.Errorf("missing index %s.%s", partition, field)
			}
			prefix := []byte(want + "\x00")
			c := idx.Cursor()
			for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
				if raw := bucket.Get(id); raw != nil {
					collect(raw)
				}
			}
			return nil
		}

		// Unindexed field: full scan.
		return bucket.ForEach(func(_, raw []byte) error {
			collect(raw)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	b.sweep(ctx, partition, expired)
	return paginate(out, opts), nil
}

func (b *boltEngine) Delete(ctx context.Context, partition, id string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		if err := b.unindex(tx, partition, bucket.Get([]byte(id))); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, id, err)
	}
	return nil
}

func (b *boltEngine) Clear(ctx context.Context, partition string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(partition)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(partition)); err != nil {
			return err
		}
		for _, field := range partitionIndices[partition] {
			name := indexBucket(partition, field)
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear %s: %w", partition, err)
	}
	return nil
}

func (b *boltEngine) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Backend:        "bolt",
		Partitions:     Partitions,
		PartitionItems: make(map[string]int, len(Partitions)),
	}
	err := b.db.View(func(tx *bbolt.Tx) error {
		for _, p := range Partitions {
			bucket := tx.Bucket([]byte(p))
			if bucket == nil {
				continue
			}
			count := 0
			err := bucket.ForEach(func(k, v []byte) error {
				count++
				stats.SizeBytes += int64(len(k) + len(v))
				return nil
			})
			if err != nil {
				return err
			}
			stats.PartitionItems[p] = count
			stats.Items += count
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("collect stats: %w", err)
	}
	return stats, nil
}

func (b *boltEngine) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
