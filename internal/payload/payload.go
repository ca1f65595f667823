// Package payload decodes raw scan strings into structured data.
//
// Two payload kinds exist on the wire:
//
//	Invoice: "PKG1:" + base64url_nopad(JSON{"o": orderId, "i": [[sku, qty], ...]})
//	Item:    "PKT1:" + base64url_nopad(JSON{"s": sku})
//
// Any string without the item prefix is treated verbatim (trimmed) as a SKU,
// which supports plain-text barcodes. Prefix matching is case-insensitive.
// The formats are bit-exact with the existing invoice label generators and
// must not drift.
//
// Decoding is a pure function of its input: no state, no side effects, safe
// on attacker-controlled strings. Callers cap raw length before decoding.
package payload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kitoko/packline/internal/order"
)

// Wire prefixes. Matching is case-insensitive; encoding always emits
// the canonical uppercase form.
const (
	InvoicePrefix = "PKG1:"
	ItemPrefix    = "PKT1:"
)

// HasInvoicePrefix reports whether raw carries the invoice marker.
// The engine uses this for dispatch: a string that looks like an invoice
// payload but fails to decode is an invoice error, never retried as an item.
func HasInvoicePrefix(raw string) bool {
	return len(raw) >= len(InvoicePrefix) &&
		strings.EqualFold(raw[:len(InvoicePrefix)], InvoicePrefix)
}

func hasItemPrefix(raw string) bool {
	return len(raw) >= len(ItemPrefix) &&
		strings.EqualFold(raw[:len(ItemPrefix)], ItemPrefix)
}

// DecodeInvoice parses an invoice scan payload into a manifest.
//
// Fails with a Malformed DecodeError if the prefix is absent, the base64 or
// JSON is invalid, the order id is missing/empty, the items array is missing,
// any line is missing its sku or quantity, or a quantity is not a positive
// integer. SKUs are trimmed and NFC-normalized. Duplicate SKUs within one
// manifest are preserved as-is; rejecting them is the engine's call.
func DecodeInvoice(raw string) (order.Manifest, error) {
	raw = strings.TrimSpace(raw)
	if !HasInvoicePrefix(raw) {
		return order.Manifest{}, malformed("missing invoice prefix", nil)
	}

	decoded, err := decodeBody(raw[len(InvoicePrefix):])
	if err != nil {
		return order.Manifest{}, malformed("invalid base64 body", err)
	}

	var envelope struct {
		OrderID string             `json:"o"`
		Items   *[]json.RawMessage `json:"i"`
	}
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return order.Manifest{}, malformed("invalid JSON body", err)
	}
	if envelope.OrderID == "" {
		return order.Manifest{}, malformed("missing order id", nil)
	}
	if envelope.Items == nil {
		return order.Manifest{}, malformed("missing items array", nil)
	}

	lines := make([]order.Line, 0, len(*envelope.Items))
	for i, entry := range *envelope.Items {
		line, err := decodeLine(entry)
		if err != nil {
			return order.Manifest{}, malformed(fmt.Sprintf("item %d", i), err)
		}
		lines = append(lines, line)
	}

	return order.Manifest{OrderID: envelope.OrderID, Lines: lines}, nil
}

// decodeLine parses one 2-element [sku, quantity] entry.
func decodeLine(entry json.RawMessage) (order.Line, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(entry, &pair); err != nil {
		return order.Line{}, fmt.Errorf("not an array: %w", err)
	}
	if len(pair) < 2 {
		return order.Line{}, fmt.Errorf("expected [sku, quantity], got %d elements", len(pair))
	}

	var sku string
	if err := json.Unmarshal(pair[0], &sku); err != nil {
		return order.Line{}, fmt.Errorf("sku: %w", err)
	}
	sku = canonicalSKU(sku)
	if sku == "" {
		return order.Line{}, fmt.Errorf("empty sku")
	}

	quantity, err := coerceQuantity(pair[1])
	if err != nil {
		return order.Line{}, fmt.Errorf("quantity: %w", err)
	}

	return order.Line{SKU: sku, Quantity: quantity}, nil
}

// coerceQuantity accepts JSON numbers (including integral floats like 2.0)
// and numeric strings. Anything non-integral or below 1 is malformed.
func coerceQuantity(raw json.RawMessage) (int, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		// Numeric string fallback ("2" quoted by sloppy generators).
		var s string
		if serr := json.Unmarshal(raw, &s); serr != nil {
			return 0, fmt.Errorf("not a number: %w", err)
		}
		num = json.Number(strings.TrimSpace(s))
	}

	if n, err := num.Int64(); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("must be >= 1, got %d", n)
		}
		return int(n), nil
	}

	f, err := num.Float64()
	if err != nil {
		return 0, fmt.Errorf("not a number: %w", err)
	}
	n := int64(f)
	if float64(n) != f {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be >= 1, got %d", n)
	}
	return int(n), nil
}

// DecodeItem parses a packet scan payload into a SKU.
//
// With the item prefix present, the body must be valid base64url/JSON
// carrying "s". Without the prefix, the raw trimmed string is the SKU
// (plain-text barcode fallback). SKU comparison downstream is
// case-insensitive, so no case folding happens here.
func DecodeItem(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !hasItemPrefix(raw) {
		return canonicalSKU(raw), nil
	}

	decoded, err := decodeBody(raw[len(ItemPrefix):])
	if err != nil {
		return "", malformed("invalid base64 body", err)
	}

	var envelope struct {
		SKU *string `json:"s"`
	}
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return "", malformed("invalid JSON body", err)
	}
	if envelope.SKU == nil {
		return "", malformed("missing sku", nil)
	}

	return canonicalSKU(*envelope.SKU), nil
}

// EncodeInvoice produces the wire form for a manifest. Exact inverse of
// DecodeInvoice for already-canonical manifests; used by the encode command
// for label generation and by round-trip tests.
func EncodeInvoice(m order.Manifest) string {
	items := make([][2]any, len(m.Lines))
	for i, line := range m.Lines {
		items[i] = [2]any{line.SKU, line.Quantity}
	}
	body, err := json.Marshal(map[string]any{
		"o": m.OrderID,
		"i": items,
	})
	if err != nil {
		// Only non-serializable values can fail here; the inputs are strings and ints.
		panic(fmt.Sprintf("encode invoice: %v", err))
	}
	return InvoicePrefix + base64.RawURLEncoding.EncodeToString(body)
}

// EncodeItem produces the structured wire form for an item SKU.
func EncodeItem(sku string) string {
	body, err := json.Marshal(map[string]string{"s": sku})
	if err != nil {
		panic(fmt.Sprintf("encode item: %v", err))
	}
	return ItemPrefix + base64.RawURLEncoding.EncodeToString(body)
}

// decodeBody decodes a base64url (no padding) payload body.
func decodeBody(body string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimSpace(body))
}

// canonicalSKU trims surrounding whitespace and applies Unicode NFC so that
// visually identical SKUs from different label generators compare equal.
func canonicalSKU(sku string) string {
	return norm.NFC.String(strings.TrimSpace(sku))
}
