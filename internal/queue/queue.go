// Package queue implements the offline mutation queue: an ordered, durable
// list of pending remote effects that drains itself when connectivity is
// available and bounded-retries failures.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkravets/credwallet/internal/connectivity"
	"github.com/dkravets/credwallet/internal/models"
	"github.com/dkravets/credwallet/internal/storage"
)

// maxRetries is the automatic retry budget per item. An item at the bound
// is excluded from drain passes until explicitly reset.
const maxRetries = 3

// stateID keys the durable queue state inside the sync partition.
const stateID = "queue"

// Dispatcher performs the remote effect of one queue item. It is supplied
// by the surrounding application and resolves per-item success or failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, item models.QueueItem) error
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, item models.QueueItem) error

// Dispatch implements Dispatcher.
func (f DispatchFunc) Dispatch(ctx context.Context, item models.QueueItem) error {
	return f(ctx, item)
}

// queueState is the durable subset of the coordinator's state. Connectivity
// and the processing flag are re-derived at startup, never persisted.
type queueState struct {
	Items    []models.QueueItem `json:"items"`
	LastSync int64              `json:"lastSync,omitempty"`
}

// Coordinator owns all queue state. Every mutation goes through its
// methods, which centrally enforce FIFO order and the retry bound.
type Coordinator struct {
	store      storage.Engine
	dispatcher Dispatcher
	observer   connectivity.Observer
	log        *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	items      []models.QueueItem
	lastSync   int64
	processing bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNow sets the time source, used by tests.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New constructs a Coordinator. The queue starts empty; call Load to
// restore items persisted by a previous process.
func New(store storage.Engine, dispatcher Dispatcher, observer connectivity.Observer, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		dispatcher: dispatcher,
		observer:   observer,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load restores the persisted item list and lastSync timestamp.
func (c *Coordinator) Load(ctx context.Context) error {
	raw, err := c.store.Get(ctx, storage.PartitionSync, stateID)
	if err != nil {
		return fmt.Errorf("load queue state: %w", err)
	}
	if raw == nil {
		return nil
	}
	var state queueState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("decode queue state: %w", err)
	}
	c.mu.Lock()
	c.items = state.Items
	c.lastSync = state.LastSync
	c.mu.Unlock()
	return nil
}

// Watch subscribes to connectivity transitions: going online triggers an
// automatic drain, going offline only changes the derived status. The
// subscription is removed when ctx is canceled.
func (c *Coordinator) Watch(ctx context.Context) {
	unsubscribe := c.observer.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if err := c.Process(ctx); err != nil {
				c.log.Error("automatic drain failed", zap.Error(err))
			}
		}()
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// persistLocked writes the durable state. Callers must hold c.mu.
func (c *Coordinator) persistLocked(ctx context.Context) error {
	state := queueState{Items: c.items, LastSync: c.lastSync}
	if err := c.store.Set(ctx, storage.PartitionSync, stateID, state, storage.SetOptions{}); err != nil {
		return fmt.Errorf("persist queue state: %w", err)
	}
	return nil
}

// Add appends a pending mutation to the tail of the queue.
func (c *Coordinator) Add(ctx context.Context, typ models.MutationType, resource models.ResourceKind, data any) (models.QueueItem, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.QueueItem{}, fmt.Errorf("marshal mutation payload: %w", err)
	}
	now := c.now()
	item := models.QueueItem{
		ID:        fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Type:      typ,
		Resource:  resource,
		Data:      raw,
		Timestamp: now.UnixMilli(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	if err := c.persistLocked(ctx); err != nil {
		c.items = c.items[:len(c.items)-1]
		return models.QueueItem{}, err
	}
	c.log.Debug("queued mutation",
		zap.String("id", item.ID),
		zap.String("type", string(typ)),
		zap.String("resource", string(resource)))
	return item, nil
}

// Process runs one drain pass: pending items in FIFO order, each dispatched
// independently. It is a no-op when offline, already processing, or empty.
// Per-item dispatch errors are recorded on the item, never returned; the
// returned error covers only persistence of the queue state itself.
func (c *Coordinator) Process(ctx context.Context) error {
	c.mu.Lock()
	if c.processing || !c.observer.Online() || len(c.items) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.processing = true
	eligible := make([]string, 0, len(c.items))
	for _, it := range c.items {
		if it.RetryCount < maxRetries {
			eligible = append(eligible, it.ID)
		}
	}
	c.mu.Unlock()

	for _, id := range eligible {
		c.mu.Lock()
		item, ok := c.find(id)
		c.mu.Unlock()
		if !ok {
			// Removed mid-pass by Clear.
			continue
		}

		err := c.dispatcher.Dispatch(ctx, item)

		c.mu.Lock()
		if err != nil {
			c.recordFailure(id, err)
		} else {
			c.remove(id)
		}
		c.mu.Unlock()
	}

	// The pass completed; the flag clears regardless of per-item outcomes.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync = c.now().UnixMilli()
	c.processing = false
	return c.persistLocked(ctx)
}

// find returns a copy of the item with the given id. Callers hold c.mu.
func (c *Coordinator) find(id string) (models.QueueItem, bool) {
	for _, it := range c.items {
		if it.ID == id {
			return it, true
		}
	}
	return models.QueueItem{}, false
}

// remove drops the item with the given id. Callers hold c.mu.
func (c *Coordinator) remove(id string) {
	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

// recordFailure increments the item's retry count and keeps the error
// string for the UI. Callers hold c.mu.
func (c *Coordinator) recordFailure(id string, err error) {
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		c.items[i].RetryCount++
		c.items[i].LastError = err.Error()
		if c.items[i].RetryCount >= maxRetries {
			c.log.Warn("mutation exhausted retries, manual retry required",
				zap.String("id", id), zap.String("error", err.Error()))
		} else {
			c.log.Debug("mutation dispatch failed",
				zap.String("id", id),
				zap.Int("retryCount", c.items[i].RetryCount),
				zap.Error(err))
		}
		return
	}
}

// RetryFailed resets every exhausted item to pending and starts a drain pass.
func (c *Coordinator) RetryFailed(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].RetryCount >= maxRetries {
			c.items[i].RetryCount = 0
			c.items[i].LastError = ""
		}
	}
	err := c.persistLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Process(ctx)
}

// Clear discards all pending and failed items. Explicit user action only.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	return c.persistLocked(ctx)
}

// Items returns a snapshot of the queue for per-item error display.
func (c *Coordinator) Items() []models.QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.QueueItem, len(c.items))
	copy(out, c.items)
	return out
}

// Status returns the derived sync status snapshot.
func (c *Coordinator) Status() models.SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	failed := 0
	for _, it := range c.items {
		if it.RetryCount >= maxRetries {
			failed++
		}
	}
	return models.SyncStatus{
		IsOnline:          c.observer.Online(),
		LastSync:          c.lastSync,
		PendingItems:      len(c.items),
		FailedItems:       failed,
		IsProcessingQueue: c.processing,
	}
}
