package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestManualTransitions(t *testing.T) {
	m := NewManual(false)
	if m.Online() {
		t.Fatal("expected initial offline")
	}

	var notified atomic.Int32
	var last atomic.Bool
	unsubscribe := m.Subscribe(func(online bool) {
		notified.Add(1)
		last.Store(online)
	})

	m.SetOnline(true)
	if !m.Online() || notified.Load() != 1 || !last.Load() {
		t.Errorf("transition not observed: online=%v notified=%d", m.Online(), notified.Load())
	}

	// Same-state set is not a transition.
	m.SetOnline(true)
	if notified.Load() != 1 {
		t.Errorf("duplicate notification on same-state set: %d", notified.Load())
	}

	m.SetOnline(false)
	if notified.Load() != 2 || last.Load() {
		t.Errorf("offline transition not observed: notified=%d", notified.Load())
	}

	unsubscribe()
	m.SetOnline(true)
	if notified.Load() != 2 {
		t.Error("notified after unsubscribe")
	}
}

func TestSubscriberMayReenter(t *testing.T) {
	m := NewManual(false)
	m.Subscribe(func(bool) {
		// Callbacks run outside the lock, so querying back is safe.
		_ = m.Online()
	})
	m.SetOnline(true)
}

func TestProberDetectsServer(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProber(srv.Client(), srv.URL, 20*time.Millisecond, zap.NewNop())
	p.Start(ctx)

	waitFor(t, func() bool { return p.Online() }, "prober never went online")

	healthy.Store(false)
	waitFor(t, func() bool { return !p.Online() }, "prober never went offline")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
