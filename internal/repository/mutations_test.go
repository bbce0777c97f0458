package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dkravets/credwallet/internal/models"
)

func setupMock(t *testing.T) (*PostgresMutationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresMutationRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

func TestUpsertEntity_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO credentials (id, payload, version, deleted)`)).
		WithArgs("c1", []byte(`{"id":"c1"}`), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertEntity(context.Background(), models.ResourceCredential, "c1", []byte(`{"id":"c1"}`), 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpsertEntity_UnknownResource(t *testing.T) {
	repo, _, cleanup := setupMock(t)
	defer cleanup()

	err := repo.UpsertEntity(context.Background(), models.ResourceKind("gadget"), "g1", []byte(`{}`), 1)
	if err == nil || !regexp.MustCompile(`unknown resource`).MatchString(err.Error()) {
		t.Errorf("expected unknown resource error, got %v", err)
	}
}

func TestUpsertEntity_Error(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO handshakes`)).
		WithArgs("h1", []byte(`{"id":"h1"}`), int64(2)).
		WillReturnError(errors.New("exec fail"))

	err := repo.UpsertEntity(context.Background(), models.ResourceHandshake, "h1", []byte(`{"id":"h1"}`), 2)
	if err == nil || !regexp.MustCompile(`upsert handshake h1`).MatchString(err.Error()) {
		t.Errorf("expected wrapped upsert error, got %v", err)
	}
}

func TestSoftDelete_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE profiles SET deleted = true, version = $2 WHERE id = $1`)).
		WithArgs("p1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SoftDelete(context.Background(), models.ResourceProfile, "p1", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordEvent_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO mutation_events (id, type, resource, payload, occurred_at)`)).
		WithArgs("m1", "share", "credential", []byte(`{"id":"c1","recipient":"bob"}`), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordEvent(context.Background(), "m1", models.MutationShare, models.ResourceCredential,
		[]byte(`{"id":"c1","recipient":"bob"}`), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordEvent_Error(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO mutation_events`)).
		WillReturnError(errors.New("exec fail"))

	err := repo.RecordEvent(context.Background(), "m2", models.MutationVerify, models.ResourceCredential, []byte(`{}`), 100)
	if err == nil || !regexp.MustCompile(`record verify event m2`).MatchString(err.Error()) {
		t.Errorf("expected wrapped event error, got %v", err)
	}
}
