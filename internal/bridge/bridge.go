// Package bridge hands completed-order records to the remote document store.
//
// Uploads are best-effort: the engine fires them on their own goroutine and
// a failure only surfaces as an advisory notice. The local ledger stays
// authoritative regardless of upload outcome, and nothing here ever blocks
// or mutates scan processing.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kitoko/packline/internal/order"
)

// Bridge receives completed-order records for best-effort upload.
type Bridge interface {
	Upload(ctx context.Context, o order.PackedOrder, ownerUID string) error
}

// Nop discards uploads. Used when cloud sync is disabled.
type Nop struct{}

func (Nop) Upload(context.Context, order.PackedOrder, string) error { return nil }

// DefaultTimeout bounds a single upload attempt. The engine does not retry;
// retry policy belongs to the remote store's own tooling.
const DefaultTimeout = 10 * time.Second

// HTTPBridge uploads packed orders to a REST document store. Each order
// becomes one document at users/{uid}/packedOrders/{orderId}_{packedAt},
// keyed so repeated uploads of the same completion overwrite idempotently.
type HTTPBridge struct {
	base   *url.URL
	client *http.Client
}

// NewHTTP creates a bridge for the given document-store base URL.
// A non-positive timeout falls back to DefaultTimeout.
func NewHTTP(baseURL string, timeout time.Duration) (*HTTPBridge, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("sync bridge: invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("sync bridge: base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPBridge{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// document is the uploaded JSON shape, matching the records the invoice
// generators' backend expects.
type document struct {
	OrderID       string             `json:"orderId"`
	PackedAt      int64              `json:"packedAt"`
	OperatorEmail string             `json:"operatorEmail,omitempty"`
	Items         []order.PackedItem `json:"items"`
}

// Upload PUTs the order document. Any transport error or non-2xx response
// is returned; callers treat all failures as soft.
func (b *HTTPBridge) Upload(ctx context.Context, o order.PackedOrder, ownerUID string) error {
	body, err := json.Marshal(document{
		OrderID:       o.OrderID,
		PackedAt:      o.PackedAt,
		OperatorEmail: o.OperatorEmail,
		Items:         o.Items,
	})
	if err != nil {
		return fmt.Errorf("sync bridge: marshal order %s: %w", o.OrderID, err)
	}

	docPath := fmt.Sprintf("users/%s/packedOrders/%s_%d",
		url.PathEscape(ownerUID), url.PathEscape(o.OrderID), o.PackedAt)
	target := b.base.JoinPath(docPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sync bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync bridge: upload order %s: %w", o.OrderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sync bridge: upload order %s: unexpected status %d", o.OrderID, resp.StatusCode)
	}
	return nil
}
