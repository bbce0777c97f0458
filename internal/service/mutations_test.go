package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkravets/credwallet/internal/models"
	"github.com/dkravets/credwallet/internal/service"
)

type mockRepo struct {
	UpsertEntityFunc func(ctx context.Context, resource models.ResourceKind, id string, payload []byte, version int64) error
	SoftDeleteFunc   func(ctx context.Context, resource models.ResourceKind, id string, version int64) error
	RecordEventFunc  func(ctx context.Context, mutationID string, typ models.MutationType, resource models.ResourceKind, payload []byte, timestamp int64) error
}

func (m *mockRepo) UpsertEntity(ctx context.Context, resource models.ResourceKind, id string, payload []byte, version int64) error {
	return m.UpsertEntityFunc(ctx, resource, id, payload, version)
}
func (m *mockRepo) SoftDelete(ctx context.Context, resource models.ResourceKind, id string, version int64) error {
	return m.SoftDeleteFunc(ctx, resource, id, version)
}
func (m *mockRepo) RecordEvent(ctx context.Context, mutationID string, typ models.MutationType, resource models.ResourceKind, payload []byte, timestamp int64) error {
	return m.RecordEventFunc(ctx, mutationID, typ, resource, payload, timestamp)
}

func TestApply_CreateUpserts(t *testing.T) {
	var gotID string
	var gotVersion int64
	repo := &mockRepo{
		UpsertEntityFunc: func(_ context.Context, resource models.ResourceKind, id string, payload []byte, version int64) error {
			gotID = id
			gotVersion = version
			return nil
		},
	}
	svc := service.NewMutationService(repo)

	m := service.Mutation{
		ID:        "m1",
		Type:      models.MutationCreate,
		Data:      json.RawMessage(`{"id":"c1","type":"education"}`),
		Timestamp: 42,
	}
	if err := svc.Apply(context.Background(), models.ResourceCredential, m); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if gotID != "c1" || gotVersion != 42 {
		t.Errorf("upsert got id=%q version=%d", gotID, gotVersion)
	}
}

func TestApply_DeleteSoftDeletes(t *testing.T) {
	var gotID string
	repo := &mockRepo{
		SoftDeleteFunc: func(_ context.Context, _ models.ResourceKind, id string, _ int64) error {
			gotID = id
			return nil
		},
	}
	svc := service.NewMutationService(repo)

	m := service.Mutation{ID: "m2", Type: models.MutationDelete, Data: json.RawMessage(`{"id":"c9"}`), Timestamp: 7}
	if err := svc.Apply(context.Background(), models.ResourceCredential, m); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if gotID != "c9" {
		t.Errorf("soft delete got id %q, want c9", gotID)
	}
}

func TestApply_ShareRecordsEvent(t *testing.T) {
	var gotType models.MutationType
	repo := &mockRepo{
		RecordEventFunc: func(_ context.Context, mutationID string, typ models.MutationType, _ models.ResourceKind, _ []byte, _ int64) error {
			gotType = typ
			return nil
		},
	}
	svc := service.NewMutationService(repo)

	m := service.Mutation{ID: "m3", Type: models.MutationShare, Data: json.RawMessage(`{"id":"c1","recipient":"bob"}`)}
	if err := svc.Apply(context.Background(), models.ResourceCredential, m); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if gotType != models.MutationShare {
		t.Errorf("recorded type %q, want share", gotType)
	}
}

func TestApply_MissingEntityID(t *testing.T) {
	svc := service.NewMutationService(&mockRepo{})
	m := service.Mutation{ID: "m4", Type: models.MutationCreate, Data: json.RawMessage(`{"type":"x"}`)}
	err := svc.Apply(context.Background(), models.ResourceCredential, m)
	if !errors.Is(err, service.ErrInvalidMutation) {
		t.Errorf("expected ErrInvalidMutation, got %v", err)
	}
}

func TestApply_UnknownType(t *testing.T) {
	svc := service.NewMutationService(&mockRepo{})
	m := service.Mutation{ID: "m5", Type: models.MutationType("merge"), Data: json.RawMessage(`{"id":"c1"}`)}
	err := svc.Apply(context.Background(), models.ResourceCredential, m)
	if !errors.Is(err, service.ErrInvalidMutation) {
		t.Errorf("expected ErrInvalidMutation, got %v", err)
	}
}

func TestApply_MissingMutationID(t *testing.T) {
	svc := service.NewMutationService(&mockRepo{})
	m := service.Mutation{Type: models.MutationCreate, Data: json.RawMessage(`{"id":"c1"}`)}
	err := svc.Apply(context.Background(), models.ResourceCredential, m)
	if !errors.Is(err, service.ErrInvalidMutation) {
		t.Errorf("expected ErrInvalidMutation, got %v", err)
	}
}

func TestApply_RepoError(t *testing.T) {
	wantErr := errors.New("db down")
	repo := &mockRepo{
		UpsertEntityFunc: func(context.Context, models.ResourceKind, string, []byte, int64) error {
			return wantErr
		},
	}
	svc := service.NewMutationService(repo)
	m := service.Mutation{ID: "m6", Type: models.MutationUpdate, Data: json.RawMessage(`{"id":"c1"}`)}
	if err := svc.Apply(context.Background(), models.ResourceCredential, m); !errors.Is(err, wantErr) {
		t.Errorf("Apply error = %v; want %v", err, wantErr)
	}
}
