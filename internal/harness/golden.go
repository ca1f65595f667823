package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its transcript against a
// golden file at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, renderTranscript(scenario, result))
	return nil
}

// renderTranscript formats the transcript as stable, line-oriented text.
func renderTranscript(scenario *Scenario, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenario.Name)
	for _, ev := range result.Transcript {
		fmt.Fprintf(&b, "%d %s", ev.Seq, ev.Kind)
		if ev.Reason != "" {
			fmt.Fprintf(&b, " reason=%s", ev.Reason)
		}
		if ev.OrderID != "" {
			fmt.Fprintf(&b, " order=%s", ev.OrderID)
		}
		if ev.SKU != "" {
			fmt.Fprintf(&b, " sku=%s", ev.SKU)
		}
		if ev.Count > 0 {
			fmt.Fprintf(&b, " count=%d", ev.Count)
		}
		if ev.Packed != nil {
			fmt.Fprintf(&b, " packedAt=%d items=%d", ev.Packed.PackedAt, len(ev.Packed.Items))
		}
		fmt.Fprintf(&b, " %q\n", ev.Message)
	}
	return []byte(b.String())
}
