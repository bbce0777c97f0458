// Package connectivity abstracts the platform's online/offline signal so
// the mutation queue's reaction to connectivity changes is testable without
// a real network event source.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Observer reports the current connectivity state and notifies subscribers
// of transitions.
type Observer interface {
	// Online returns the last observed connectivity state.
	Online() bool
	// Subscribe registers fn to run on every transition. The returned
	// function removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manual is an Observer driven by explicit SetOnline calls. It backs the
// CLI's online/offline toggle and test doubles.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManual creates a Manual observer with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

// Online implements Observer.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe implements Observer.
func (m *Manual) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// SetOnline records a new state and, on a transition, notifies subscribers.
// Callbacks run outside the lock so they may call back into the observer.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Prober is an Observer that derives connectivity by polling the sync
// server's health endpoint on a fixed interval.
type Prober struct {
	*Manual

	client   *http.Client
	url      string
	interval time.Duration
	log      *zap.Logger
}

// NewProber creates a Prober polling url with client every interval.
// The initial state is offline until the first successful probe.
func NewProber(client *http.Client, url string, interval time.Duration, log *zap.Logger) *Prober {
	return &Prober{
		Manual:   NewManual(false),
		client:   client,
		url:      url,
		interval: interval,
		log:      log,
	}
}

// Start launches the polling loop. It probes once immediately, then on
// every tick until ctx is canceled.
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		p.probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probe(ctx)
			}
		}
	}()
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.Error("building probe request", zap.String("url", p.url), zap.Error(err))
		return
	}
	resp, err := p.client.Do(req)
	online := err == nil && resp.StatusCode < http.StatusInternalServerError
	if resp != nil {
		_ = resp.Body.Close()
	}
	if online != p.Online() {
		p.log.Info("connectivity changed", zap.Bool("online", online))
	}
	p.SetOnline(online)
}
