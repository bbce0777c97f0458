// Package persistence is the entity-aware layer over the storage engine.
// It adds optimistic versioning on updates, a tagged TTL cache, and batch
// writes for the wallet's entity kinds.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dkravets/credwallet/internal/models"
	"github.com/dkravets/credwallet/internal/storage"
)

// ErrNotFound is returned by Update* when the target id does not exist,
// so callers can tell "nothing to update" from a transient failure.
var ErrNotFound = errors.New("entity not found")

// Service provides entity persistence over a storage.Engine.
type Service struct {
	store storage.Engine
	log   *zap.Logger
}

// New constructs a Service. store must be initialized by the caller or
// lazily by the engine itself.
func New(store storage.Engine, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// Save writes an entity into a partition. A zero version stores version 1.
func (s *Service) Save(ctx context.Context, partition, id string, entity any, version int64) error {
	return s.store.Set(ctx, partition, id, entity, storage.SetOptions{Version: version})
}

// update merges patch into the stored payload and writes it back with the
// version incremented by exactly one. This is the sole optimistic-concurrency
// mechanism; concurrent updates race on last-write-wins at the storage layer.
func (s *Service) update(ctx context.Context, partition, id string, patch map[string]any) error {
	item, err := s.store.GetItem(ctx, partition, id)
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", partition, id, err)
	}
	if item == nil {
		return fmt.Errorf("update %s/%s: %w", partition, id, ErrNotFound)
	}

	var merged map[string]any
	if err := json.Unmarshal(item.Data, &merged); err != nil {
		return fmt.Errorf("decode %s/%s: %w", partition, id, err)
	}
	for k, v := range patch {
		merged[k] = v
	}

	opts := storage.SetOptions{Version: item.Version + 1}
	if item.TTL > 0 {
		opts.TTL = time.Duration(item.TTL) * time.Millisecond
	}
	return s.store.Set(ctx, partition, id, merged, opts)
}

// decodeAll unmarshals raw payloads into entities, logging and skipping
// entries that no longer decode instead of failing the whole read.
func decodeAll[T any](log *zap.Logger, partition string, raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Warn("skipping undecodable entity", zap.String("partition", partition), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}

func decodeOne[T any](raw json.RawMessage) (*T, error) {
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveCredential stores a credential with version 1.
func (s *Service) SaveCredential(ctx context.Context, cred models.Credential) error {
	return s.Save(ctx, storage.PartitionCredentials, cred.ID, cred, 0)
}

// SaveCredentialBatch writes each credential independently; the batch is not
// atomic. It returns the number written, and the first error encountered so
// callers can detect a partial write via the count mismatch.
func (s *Service) SaveCredentialBatch(ctx context.Context, creds []models.Credential) (int, error) {
	written := 0
	var firstErr error
	for _, c := range creds {
		if err := s.SaveCredential(ctx, c); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("save credential %s: %w", c.ID, err)
			}
			continue
		}
		written++
	}
	return written, firstErr
}

// UpdateCredential merges patch into the stored credential, bumping its version.
func (s *Service) UpdateCredential(ctx context.Context, id string, patch map[string]any) error {
	return s.update(ctx, storage.PartitionCredentials, id, patch)
}

// Credential returns one credential, or nil when absent or expired.
func (s *Service) Credential(ctx context.Context, id string) (*models.Credential, error) {
	raw, err := s.store.Get(ctx, storage.PartitionCredentials, id)
	if err != nil {
		return nil, err
	}
	return decodeOne[models.Credential](raw)
}

// Credentials returns all stored credentials.
func (s *Service) Credentials(ctx context.Context) ([]models.Credential, error) {
	raws, err := s.store.GetAll(ctx, storage.PartitionCredentials)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Credential](s.log, storage.PartitionCredentials, raws), nil
}

// CredentialsByField returns credentials whose payload field equals value.
func (s *Service) CredentialsByField(ctx context.Context, field string, value any) ([]models.Credential, error) {
	raws, err := s.store.Query(ctx, storage.PartitionCredentials, field, value, storage.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Credential](s.log, storage.PartitionCredentials, raws), nil
}

// DeleteCredential removes one credential from local storage.
func (s *Service) DeleteCredential(ctx context.Context, id string) error {
	return s.store.Delete(ctx, storage.PartitionCredentials, id)
}

// SaveHandshake stores a handshake request with version 1.
func (s *Service) SaveHandshake(ctx context.Context, req models.HandshakeRequest) error {
	return s.Save(ctx, storage.PartitionHandshake, req.ID, req, 0)
}

// UpdateHandshake merges patch into the stored request, bumping its version.
func (s *Service) UpdateHandshake(ctx context.Context, id string, patch map[string]any) error {
	return s.update(ctx, storage.PartitionHandshake, id, patch)
}

// Handshakes returns all stored handshake requests.
func (s *Service) Handshakes(ctx context.Context) ([]models.HandshakeRequest, error) {
	raws, err := s.store.GetAll(ctx, storage.PartitionHandshake)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.HandshakeRequest](s.log, storage.PartitionHandshake, raws), nil
}

// HandshakesByField returns handshake requests whose payload field equals value.
func (s *Service) HandshakesByField(ctx context.Context, field string, value any) ([]models.HandshakeRequest, error) {
	raws, err := s.store.Query(ctx, storage.PartitionHandshake, field, value, storage.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.HandshakeRequest](s.log, storage.PartitionHandshake, raws), nil
}

// DeleteHandshake removes one handshake request from local storage.
func (s *Service) DeleteHandshake(ctx context.Context, id string) error {
	return s.store.Delete(ctx, storage.PartitionHandshake, id)
}

// SaveProfile stores the holder profile with version 1.
func (s *Service) SaveProfile(ctx context.Context, p models.Profile) error {
	return s.Save(ctx, storage.PartitionProfile, p.ID, p, 0)
}

// UpdateProfile merges patch into the stored profile, bumping its version.
func (s *Service) UpdateProfile(ctx context.Context, id string, patch map[string]any) error {
	return s.update(ctx, storage.PartitionProfile, id, patch)
}

// Profile returns the stored profile, or nil when absent.
func (s *Service) Profile(ctx context.Context, id string) (*models.Profile, error) {
	raw, err := s.store.Get(ctx, storage.PartitionProfile, id)
	if err != nil {
		return nil, err
	}
	return decodeOne[models.Profile](raw)
}

// StorageStats aggregates engine stats for diagnostics.
type StorageStats struct {
	// Backend names the active storage backend.
	Backend string `json:"backend"`
	// Partitions lists the managed partitions.
	Partitions []string `json:"partitions"`
	// TotalItems is the item count across all partitions.
	TotalItems int `json:"totalItems"`
	// EntityCounts is the item count per partition.
	EntityCounts map[string]int `json:"entityCounts"`
	// EstimatedBytes is the estimated serialized size of all items.
	EstimatedBytes int64 `json:"estimatedBytes"`
}

// StorageStats reports the engine's stats with per-partition entity counts.
func (s *Service) StorageStats(ctx context.Context) (StorageStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return StorageStats{}, err
	}
	return StorageStats{
		Backend:        stats.Backend,
		Partitions:     stats.Partitions,
		TotalItems:     stats.Items,
		EntityCounts:   stats.PartitionItems,
		EstimatedBytes: stats.SizeBytes,
	}, nil
}
