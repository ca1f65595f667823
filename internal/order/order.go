// Package order defines the domain types for the packing workflow:
// invoice manifests, in-flight packing progress, and completed order records.
//
// All timestamps are Unix epoch milliseconds. This matches the persisted
// ledger blob format and keeps comparisons cheap (no time.Time equality
// pitfalls when records round-trip through JSON).
package order

import (
	"strings"
	"time"
)

// Line is one required item on an invoice manifest.
// Immutable once decoded.
type Line struct {
	SKU      string
	Quantity int
}

// Manifest identifies one packing task: an order and its required lines.
// Lines are unique by SKU (enforced by the engine on load, not the codec).
type Manifest struct {
	OrderID string
	Lines   []Line
}

// LineFor looks up a manifest line by SKU, case-insensitively.
// Returns the line as declared on the manifest (canonical SKU casing preserved).
func (m Manifest) LineFor(sku string) (Line, bool) {
	for _, line := range m.Lines {
		if strings.EqualFold(line.SKU, sku) {
			return line, true
		}
	}
	return Line{}, false
}

// HasDuplicateSKUs reports whether two manifest lines share a SKU
// (case-insensitive). Such manifests are rejected at load time.
func (m Manifest) HasDuplicateSKUs() bool {
	seen := make(map[string]bool, len(m.Lines))
	for _, line := range m.Lines {
		key := strings.ToLower(line.SKU)
		if seen[key] {
			return true
		}
		seen[key] = true
	}
	return false
}

// TotalQuantity returns the number of physical units the manifest requires.
func (m Manifest) TotalQuantity() int {
	total := 0
	for _, line := range m.Lines {
		total += line.Quantity
	}
	return total
}

// Progress tracks the single active order while it is being packed.
//
// INVARIANTS (maintained by the engine, the sole mutator):
//   - every key in Scanned exists on Manifest.Lines
//   - Scanned[sku] never exceeds the line's required quantity
type Progress struct {
	Manifest    Manifest
	Scanned     map[string]int // keyed by canonical (manifest) SKU casing
	StartedAt   int64
	CompletedAt int64 // zero until complete
}

// NewProgress creates a fresh Progress for a manifest with no scans recorded.
func NewProgress(m Manifest, startedAt int64) *Progress {
	return &Progress{
		Manifest:  m,
		Scanned:   make(map[string]int, len(m.Lines)),
		StartedAt: startedAt,
	}
}

// CountFor returns the scanned count for a manifest SKU (canonical casing).
func (p *Progress) CountFor(sku string) int {
	return p.Scanned[sku]
}

// Remaining returns outstanding quantity per manifest SKU.
func (p *Progress) Remaining() map[string]int {
	remaining := make(map[string]int, len(p.Manifest.Lines))
	for _, line := range p.Manifest.Lines {
		remaining[line.SKU] = line.Quantity - p.Scanned[line.SKU]
	}
	return remaining
}

// IsComplete reports whether every manifest line has reached its
// required quantity.
func (p *Progress) IsComplete() bool {
	for _, line := range p.Manifest.Lines {
		if p.Scanned[line.SKU] < line.Quantity {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Snapshots handed to observers must not alias
// the engine's live state.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	scanned := make(map[string]int, len(p.Scanned))
	for sku, count := range p.Scanned {
		scanned[sku] = count
	}
	lines := make([]Line, len(p.Manifest.Lines))
	copy(lines, p.Manifest.Lines)
	return &Progress{
		Manifest:    Manifest{OrderID: p.Manifest.OrderID, Lines: lines},
		Scanned:     scanned,
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
	}
}

// PackedItem is one fulfilled line on a completed order record.
type PackedItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// PackedOrder is the immutable history record created exactly once per
// completed order. Items reflect the manifest's required quantities, which
// equal the scanned counts at completion.
type PackedOrder struct {
	OrderID       string       `json:"orderId"`
	PackedAt      int64        `json:"packedAt"`
	OperatorEmail string       `json:"operatorEmail,omitempty"`
	Items         []PackedItem `json:"items"`
}

// timestampLayout is the human-readable form used by the CSV export.
const timestampLayout = "2006-01-02 15:04:05"

// FormattedTimestamp renders PackedAt in local time for reports.
func (o PackedOrder) FormattedTimestamp() string {
	return time.UnixMilli(o.PackedAt).Format(timestampLayout)
}
