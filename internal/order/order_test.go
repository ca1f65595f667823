package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_LineFor_CaseInsensitive(t *testing.T) {
	m := Manifest{
		OrderID: "A1",
		Lines: []Line{
			{SKU: "Widget-X", Quantity: 2},
			{SKU: "BOLT-9", Quantity: 1},
		},
	}

	line, ok := m.LineFor("widget-x")
	require.True(t, ok)
	assert.Equal(t, "Widget-X", line.SKU, "canonical casing comes from the manifest")
	assert.Equal(t, 2, line.Quantity)

	line, ok = m.LineFor("bolt-9")
	require.True(t, ok)
	assert.Equal(t, "BOLT-9", line.SKU)

	_, ok = m.LineFor("missing")
	assert.False(t, ok)
}

func TestManifest_HasDuplicateSKUs(t *testing.T) {
	tests := []struct {
		name  string
		lines []Line
		want  bool
	}{
		{"no lines", nil, false},
		{"unique", []Line{{SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 1}}, false},
		{"exact duplicate", []Line{{SKU: "A", Quantity: 1}, {SKU: "A", Quantity: 2}}, true},
		{"case-folded duplicate", []Line{{SKU: "abc", Quantity: 1}, {SKU: "ABC", Quantity: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Manifest{OrderID: "O", Lines: tt.lines}
			assert.Equal(t, tt.want, m.HasDuplicateSKUs())
		})
	}
}

func TestProgress_IsComplete(t *testing.T) {
	m := Manifest{OrderID: "A1", Lines: []Line{
		{SKU: "X", Quantity: 2},
		{SKU: "Y", Quantity: 1},
	}}
	p := NewProgress(m, 1000)

	assert.False(t, p.IsComplete(), "fresh progress is incomplete")

	p.Scanned["X"] = 2
	assert.False(t, p.IsComplete(), "one line outstanding")

	p.Scanned["Y"] = 1
	assert.True(t, p.IsComplete())
}

func TestProgress_Remaining(t *testing.T) {
	m := Manifest{OrderID: "A1", Lines: []Line{
		{SKU: "X", Quantity: 3},
		{SKU: "Y", Quantity: 1},
	}}
	p := NewProgress(m, 1000)
	p.Scanned["X"] = 1

	remaining := p.Remaining()
	assert.Equal(t, map[string]int{"X": 2, "Y": 1}, remaining)
}

func TestProgress_Clone_DoesNotAlias(t *testing.T) {
	m := Manifest{OrderID: "A1", Lines: []Line{{SKU: "X", Quantity: 2}}}
	p := NewProgress(m, 1000)
	p.Scanned["X"] = 1

	clone := p.Clone()
	clone.Scanned["X"] = 99
	clone.Manifest.Lines[0].SKU = "mutated"

	assert.Equal(t, 1, p.Scanned["X"])
	assert.Equal(t, "X", p.Manifest.Lines[0].SKU)
}

func TestProgress_Clone_Nil(t *testing.T) {
	var p *Progress
	assert.Nil(t, p.Clone())
}

func TestPackedOrder_FormattedTimestamp(t *testing.T) {
	packedAt := time.Date(2024, 3, 15, 9, 30, 5, 0, time.Local).UnixMilli()
	o := PackedOrder{OrderID: "A1", PackedAt: packedAt}
	assert.Equal(t, "2024-03-15 09:30:05", o.FormattedTimestamp())
}
