package ledger

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/kitoko/packline/internal/order"
)

// storedOrder mirrors the persisted record shape. Pointer fields distinguish
// "absent" from zero values so decoding can reject incomplete records.
type storedOrder struct {
	OrderID       *string       `json:"orderId"`
	PackedAt      *int64        `json:"packedAt"`
	OperatorEmail string        `json:"operatorEmail,omitempty"`
	Items         *[]storedItem `json:"items"`
}

type storedItem struct {
	SKU      *string `json:"sku"`
	Quantity *int    `json:"quantity"`
}

// encodeHistory serializes history to the persisted JSON array form.
func encodeHistory(orders []order.PackedOrder) string {
	records := make([]storedOrder, len(orders))
	for i, o := range orders {
		items := make([]storedItem, len(o.Items))
		for j := range o.Items {
			items[j] = storedItem{SKU: &o.Items[j].SKU, Quantity: &o.Items[j].Quantity}
		}
		records[i] = storedOrder{
			OrderID:       &orders[i].OrderID,
			PackedAt:      &orders[i].PackedAt,
			OperatorEmail: o.OperatorEmail,
			Items:         &items,
		}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		// Strings, ints, and slices thereof cannot fail to marshal.
		panic("encode history: " + err.Error())
	}
	return string(raw)
}

// decodeHistory parses the persisted JSON array. Any record that fails to
// parse or is missing required fields is skipped, the rest survive.
func decodeHistory(raw string) []order.PackedOrder {
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		slog.Warn("history blob is not a JSON array, discarding", "error", err)
		return nil
	}

	orders := make([]order.PackedOrder, 0, len(records))
	for i, record := range records {
		o, ok := decodeRecord(record)
		if !ok {
			slog.Warn("skipping corrupt history record", "index", i)
			continue
		}
		orders = append(orders, o)
	}
	return orders
}

func decodeRecord(raw json.RawMessage) (order.PackedOrder, bool) {
	var rec storedOrder
	if err := json.Unmarshal(raw, &rec); err != nil {
		return order.PackedOrder{}, false
	}
	if rec.OrderID == nil || *rec.OrderID == "" || rec.PackedAt == nil || rec.Items == nil {
		return order.PackedOrder{}, false
	}

	items := make([]order.PackedItem, 0, len(*rec.Items))
	for _, item := range *rec.Items {
		if item.SKU == nil || item.Quantity == nil {
			return order.PackedOrder{}, false
		}
		items = append(items, order.PackedItem{SKU: *item.SKU, Quantity: *item.Quantity})
	}

	return order.PackedOrder{
		OrderID:       *rec.OrderID,
		PackedAt:      *rec.PackedAt,
		OperatorEmail: rec.OperatorEmail,
		Items:         items,
	}, true
}

// encodeBlocked serializes the blocked set as a sorted JSON string array.
// Sorting keeps the blob deterministic for a given set.
func encodeBlocked(blocked map[string]struct{}) string {
	ids := make([]string, 0, len(blocked))
	for id := range blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		panic("encode blocked: " + err.Error())
	}
	return string(raw)
}

// decodeBlocked parses the blocked-set blob. Non-string entries are skipped.
func decodeBlocked(raw string) map[string]struct{} {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("blocked blob is not a JSON array, discarding", "error", err)
		return map[string]struct{}{}
	}

	blocked := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		var id string
		if err := json.Unmarshal(entry, &id); err != nil {
			continue
		}
		blocked[id] = struct{}{}
	}
	return blocked
}
