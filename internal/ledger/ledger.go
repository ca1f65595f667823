// Package ledger owns the durable, deduplicated record of completed orders.
//
// Two collections live here: the packed-order history and the blocked set of
// order IDs that must never be reopened. The blocked set is the authoritative
// dedup guard - it, not history membership, gates acceptance of a repeated
// invoice scan. Both collections persist as JSON blobs in a key-value store
// and are always updated together in one transaction, so a reader never sees
// one without the other.
//
// INVARIANT: every orderId in history is present in the blocked set. The
// reverse need not hold - Import may seed blocked IDs without full records.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/kitoko/packline/internal/order"
)

// Persisted blob keys. These names are part of the stored format; changing
// them orphans existing devices' history.
const (
	historyKey = "packed_orders_history"
	blockedKey = "blocked_orders"
)

// KV is the durable key-value collaborator the ledger persists through.
// Implemented by store.Store (SQLite) and MemKV (tests).
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	PutAll(ctx context.Context, entries map[string]string) error
	DeleteAll(ctx context.Context, keys ...string) error
}

// Ledger is the append-only history of packed orders plus the blocked set.
// All mutation goes through the engine's single-writer loop; reads may come
// from the reporting path concurrently and observe consistent snapshots.
type Ledger struct {
	kv KV
}

// New creates a Ledger over a durable key-value store.
func New(kv KV) *Ledger {
	return &Ledger{kv: kv}
}

// Append adds a completed order to history and its ID to the blocked set.
// History is kept sorted by packedAt descending (presentation order).
// Both blobs are written in one transaction.
func (l *Ledger) Append(ctx context.Context, o order.PackedOrder) error {
	history, err := l.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("append %s: %w", o.OrderID, err)
	}
	blocked, err := l.BlockedIDs(ctx)
	if err != nil {
		return fmt.Errorf("append %s: %w", o.OrderID, err)
	}

	history = append(history, o)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].PackedAt > history[j].PackedAt
	})
	blocked[o.OrderID] = struct{}{}

	if err := l.kv.PutAll(ctx, map[string]string{
		historyKey: encodeHistory(history),
		blockedKey: encodeBlocked(blocked),
	}); err != nil {
		return fmt.Errorf("append %s: %w", o.OrderID, err)
	}
	return nil
}

// Snapshot returns a point-in-time copy of the history.
// Records that fail to parse are skipped; a corrupt single entry must not
// lose the rest of history.
func (l *Ledger) Snapshot(ctx context.Context) ([]order.PackedOrder, error) {
	raw, ok, err := l.kv.Get(ctx, historyKey)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return decodeHistory(raw), nil
}

// BlockedIDs returns a point-in-time copy of the blocked order-ID set.
func (l *Ledger) BlockedIDs(ctx context.Context) (map[string]struct{}, error) {
	raw, ok, err := l.kv.Get(ctx, blockedKey)
	if err != nil {
		return nil, fmt.Errorf("blocked ids: %w", err)
	}
	if !ok {
		return map[string]struct{}{}, nil
	}
	return decodeBlocked(raw), nil
}

// IsBlocked reports whether an order ID has already been packed.
func (l *Ledger) IsBlocked(ctx context.Context, orderID string) (bool, error) {
	blocked, err := l.BlockedIDs(ctx)
	if err != nil {
		return false, err
	}
	_, ok := blocked[orderID]
	return ok, nil
}

// Clear empties both history and the blocked set. Irrevocable.
func (l *Ledger) Clear(ctx context.Context) error {
	if err := l.kv.DeleteAll(ctx, historyKey, blockedKey); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Import wholesale-replaces history with the given orders and the blocked
// set with exactly their order IDs. Not additive - used for restore.
func (l *Ledger) Import(ctx context.Context, orders []order.PackedOrder) error {
	sorted := make([]order.PackedOrder, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PackedAt > sorted[j].PackedAt
	})

	blocked := make(map[string]struct{}, len(sorted))
	for _, o := range sorted {
		blocked[o.OrderID] = struct{}{}
	}

	if err := l.kv.PutAll(ctx, map[string]string{
		historyKey: encodeHistory(sorted),
		blockedKey: encodeBlocked(blocked),
	}); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return nil
}
