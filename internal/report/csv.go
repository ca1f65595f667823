// Package report derives export representations from history snapshots.
package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kitoko/packline/internal/order"
)

// Header is the fixed CSV header row.
const Header = "order_id,packed_at,operator_email,sku,quantity"

// BuildCSV renders a history snapshot as CSV: one row per (order, item)
// pair, orders sorted by packedAt ascending, items in manifest sequence.
// Deterministic for a given snapshot. Empty history yields the header only,
// which callers treat as "nothing to export".
//
// Fields are not quoted or escaped. SKUs and operator emails are assumed to
// contain no commas; a collaborator surfacing this externally must add its
// own quoting policy.
func BuildCSV(orders []order.PackedOrder) string {
	sorted := make([]order.PackedOrder, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PackedAt < sorted[j].PackedAt
	})

	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for _, o := range sorted {
		timestamp := o.FormattedTimestamp()
		for _, item := range o.Items {
			b.WriteString(o.OrderID)
			b.WriteByte(',')
			b.WriteString(timestamp)
			b.WriteByte(',')
			b.WriteString(o.OperatorEmail)
			b.WriteByte(',')
			b.WriteString(item.SKU)
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(item.Quantity))
			b.WriteByte('\n')
		}
	}
	return b.String()
}
