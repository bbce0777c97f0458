// Package repository provides persistence implementations for the wallet
// sync server using a PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkravets/credwallet/internal/models"
)

// resourceTables maps resource kinds onto their entity tables.
var resourceTables = map[models.ResourceKind]string{
	models.ResourceCredential: "credentials",
	models.ResourceHandshake:  "handshakes",
	models.ResourceProfile:    "profiles",
}

// PostgresMutationRepository applies replayed wallet mutations against a
// PostgreSQL database.
type PostgresMutationRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresMutationRepository creates a repository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance.
func NewPostgresMutationRepository(db *sql.DB) *PostgresMutationRepository {
	return &PostgresMutationRepository{DB: db}
}

// UpsertEntity inserts or updates one entity row, but only when the incoming
// version is newer than the stored one. Replayed duplicates and stale
// retries are skipped without error, which keeps dispatch idempotent.
func (r *PostgresMutationRepository) UpsertEntity(ctx context.Context, resource models.ResourceKind, id string, payload []byte, version int64) error {
	table, ok := resourceTables[resource]
	if !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, payload, version, deleted)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			version = EXCLUDED.version,
			deleted = false
		WHERE %s.version < EXCLUDED.version
	`, table, table)
	if _, err := r.DB.ExecContext(ctx, query, id, payload, version); err != nil {
		return fmt.Errorf("upsert %s %s: %w", resource, id, err)
	}
	return nil
}

// SoftDelete marks one entity row deleted, recording the deletion version.
// Deleting an unknown id is not an error.
func (r *PostgresMutationRepository) SoftDelete(ctx context.Context, resource models.ResourceKind, id string, version int64) error {
	table, ok := resourceTables[resource]
	if !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}
	query := fmt.Sprintf(`UPDATE %s SET deleted = true, version = $2 WHERE id = $1`, table)
	if _, err := r.DB.ExecContext(ctx, query, id, version); err != nil {
		return fmt.Errorf("soft delete %s %s: %w", resource, id, err)
	}
	return nil
}

// RecordEvent appends a share or verify mutation to the event log. The
// mutation id is the primary key, so a replayed duplicate is a no-op.
func (r *PostgresMutationRepository) RecordEvent(ctx context.Context, mutationID string, typ models.MutationType, resource models.ResourceKind, payload []byte, timestamp int64) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO mutation_events (id, type, resource, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, mutationID, string(typ), string(resource), payload, timestamp)
	if err != nil {
		return fmt.Errorf("record %s event %s: %w", typ, mutationID, err)
	}
	return nil
}
