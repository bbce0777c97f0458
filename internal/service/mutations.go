// Package service provides the sync server's business logic for applying
// replayed wallet mutations, delegating persistence to repository interfaces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkravets/credwallet/internal/models"
)

// ErrInvalidMutation marks a mutation the server refuses to apply.
var ErrInvalidMutation = errors.New("invalid mutation")

// MutationRepository defines the persistence operations needed by the
// MutationService.
type MutationRepository interface {
	// UpsertEntity inserts or updates an entity row if the version is newer.
	UpsertEntity(ctx context.Context, resource models.ResourceKind, id string, payload []byte, version int64) error
	// SoftDelete marks an entity row deleted.
	SoftDelete(ctx context.Context, resource models.ResourceKind, id string, version int64) error
	// RecordEvent appends a share or verify mutation to the event log.
	RecordEvent(ctx context.Context, mutationID string, typ models.MutationType, resource models.ResourceKind, payload []byte, timestamp int64) error
}

// Mutation is a replayed queue item as received from a wallet client.
type Mutation struct {
	// ID is the client-assigned mutation id.
	ID string `json:"id"`
	// Type is the mutation kind: create, update, delete, share, verify.
	Type models.MutationType `json:"type"`
	// Data is the entity payload the mutation carries.
	Data json.RawMessage `json:"data"`
	// Timestamp is the client enqueue time in unix milliseconds, used as
	// the version guard for last-writer-wins upserts.
	Timestamp int64 `json:"timestamp"`
}

// MutationService validates and applies replayed mutations.
type MutationService struct {
	repo MutationRepository
}

// NewMutationService constructs a MutationService with the provided repository.
func NewMutationService(repo MutationRepository) *MutationService {
	return &MutationService{repo: repo}
}

// Apply routes one mutation to the repository. Create and update upsert the
// entity, delete soft-deletes it, share and verify are recorded to the
// event log. The entity id is taken from the payload's "id" field.
func (s *MutationService) Apply(ctx context.Context, resource models.ResourceKind, m Mutation) error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing mutation id", ErrInvalidMutation)
	}

	switch m.Type {
	case models.MutationCreate, models.MutationUpdate:
		id, err := entityID(m.Data)
		if err != nil {
			return err
		}
		return s.repo.UpsertEntity(ctx, resource, id, m.Data, m.Timestamp)
	case models.MutationDelete:
		id, err := entityID(m.Data)
		if err != nil {
			return err
		}
		return s.repo.SoftDelete(ctx, resource, id, m.Timestamp)
	case models.MutationShare, models.MutationVerify:
		return s.repo.RecordEvent(ctx, m.ID, m.Type, resource, m.Data, m.Timestamp)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMutation, m.Type)
	}
}

// entityID extracts the target entity id from a mutation payload.
func entityID(data json.RawMessage) (string, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.ID == "" {
		return "", fmt.Errorf("%w: payload missing entity id", ErrInvalidMutation)
	}
	return payload.ID, nil
}
