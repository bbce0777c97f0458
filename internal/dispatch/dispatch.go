// Package dispatch sends queued mutations to the remote wallet sync server.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dkravets/credwallet/internal/models"
)

// Mutation is the wire form of a replayed queue item.
type Mutation struct {
	ID        string              `json:"id"`
	Type      models.MutationType `json:"type"`
	Data      json.RawMessage     `json:"data"`
	Timestamp int64               `json:"timestamp"`
}

// HTTPDispatcher replays queue items against the sync server's REST API.
// Each (type, resource) pair maps onto POST /api/mutations/{resource}.
type HTTPDispatcher struct {
	client  *http.Client
	baseURL string
}

// NewHTTPDispatcher creates a dispatcher for the server at baseURL.
func NewHTTPDispatcher(client *http.Client, baseURL string) *HTTPDispatcher {
	return &HTTPDispatcher{client: client, baseURL: baseURL}
}

// Dispatch implements queue.Dispatcher. A non-2xx response is a dispatch
// failure; the body is included in the error for the queue's LastError.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, item models.QueueItem) error {
	body, err := json.Marshal(Mutation{
		ID:        item.ID,
		Type:      item.Type,
		Data:      item.Data,
		Timestamp: item.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal mutation %s: %w", item.ID, err)
	}

	url := fmt.Sprintf("%s/api/mutations/%s", d.baseURL, item.Resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", item.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", item.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dispatch %s: server returned %d: %s", item.ID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
