package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkravets/credwallet/internal/models"
)

func TestDispatchPostsMutation(t *testing.T) {
	var gotPath string
	var gotBody Mutation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.Client(), srv.URL)
	item := models.QueueItem{
		ID:        "123-abcd",
		Type:      models.MutationCreate,
		Resource:  models.ResourceCredential,
		Data:      json.RawMessage(`{"id":"c1"}`),
		Timestamp: 123,
	}

	if err := d.Dispatch(context.Background(), item); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if gotPath != "/api/mutations/credential" {
		t.Errorf("path = %q, want /api/mutations/credential", gotPath)
	}
	if gotBody.ID != "123-abcd" || gotBody.Type != models.MutationCreate || gotBody.Timestamp != 123 {
		t.Errorf("unexpected body: %+v", gotBody)
	}
}

func TestDispatchNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stale version", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.Client(), srv.URL)
	err := d.Dispatch(context.Background(), models.QueueItem{
		ID:       "1-x",
		Type:     models.MutationUpdate,
		Resource: models.ResourceProfile,
		Data:     json.RawMessage(`{}`),
	})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "stale version") {
		t.Errorf("error should carry status and body for LastError: %v", err)
	}
}

func TestDispatchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	d := NewHTTPDispatcher(http.DefaultClient, srv.URL)
	err := d.Dispatch(context.Background(), models.QueueItem{
		ID:       "1-y",
		Type:     models.MutationVerify,
		Resource: models.ResourceCredential,
		Data:     json.RawMessage(`{}`),
	})
	if err == nil {
		t.Fatal("expected a network error")
	}
}
