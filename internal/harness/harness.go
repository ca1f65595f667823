package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kitoko/packline/internal/auth"
	"github.com/kitoko/packline/internal/bridge"
	"github.com/kitoko/packline/internal/engine"
	"github.com/kitoko/packline/internal/ledger"
	"github.com/kitoko/packline/internal/order"
	"github.com/kitoko/packline/internal/payload"
	"github.com/kitoko/packline/internal/testutil"
)

// harnessEpoch is the fixed wall-clock base for scenario runs. Every run
// starts here and advances one second per clock read, so packedAt values in
// transcripts are reproducible.
var harnessEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	Pass bool

	// Transcript contains every event the engine emitted, in order.
	Transcript []engine.Event

	// Errors contains expectation and assertion failures.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario against a fresh engine and in-memory ledger and
// returns the result. Deterministic tokens and timestamps make repeated
// runs byte-identical.
func Run(scenario *Scenario) (*Result, error) {
	led := ledger.New(ledger.NewMemKV())

	session := auth.Session{}
	if scenario.Operator != "" {
		session = auth.Session{UID: "uid-harness", Email: scenario.Operator}
	}

	clk := testutil.NewSteppingClock(harnessEpoch, time.Second)
	eng := engine.New(led, bridge.Nop{}, session,
		engine.WithTokens(&engine.SeqGenerator{}),
		engine.WithNow(clk.Now),
	)

	events, cancelSub := eng.Subscribe()
	result := NewResult()
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for ev := range events {
			result.Transcript = append(result.Transcript, ev)
		}
	}()

	for i, step := range scenario.Scans {
		if !eng.Scan(encodeStep(step)) {
			cancelSub()
			return nil, fmt.Errorf("scan %d refused: queue closed", i)
		}
	}
	eng.Stop()

	if err := eng.Run(context.Background()); err != nil {
		cancelSub()
		return nil, fmt.Errorf("engine run: %w", err)
	}
	cancelSub()
	<-collected

	evaluateExpectations(scenario, result)
	evaluateAssertions(context.Background(), scenario, led, result)
	return result, nil
}

// encodeStep turns a scan step into the raw payload the camera would read.
func encodeStep(step ScanStep) string {
	switch {
	case step.Invoice != nil:
		skus := make([]string, 0, len(step.Invoice.Lines))
		for sku := range step.Invoice.Lines {
			skus = append(skus, sku)
		}
		sort.Strings(skus)

		manifest := order.Manifest{OrderID: step.Invoice.Order}
		for _, sku := range skus {
			manifest.Lines = append(manifest.Lines, order.Line{SKU: sku, Quantity: step.Invoice.Lines[sku]})
		}
		return payload.EncodeInvoice(manifest)
	case step.Item != "":
		return payload.EncodeItem(step.Item)
	default:
		return step.Raw
	}
}

// evaluateExpectations checks each step's expect clause against the
// transcript, in order. An expect matches the first not-yet-consumed event
// of its kind, so expects validate sequence without a strict one-to-one
// mapping between scans and events.
func evaluateExpectations(scenario *Scenario, result *Result) {
	cursor := 0
	for i, step := range scenario.Scans {
		if step.Expect == nil {
			continue
		}

		found := false
		for ; cursor < len(result.Transcript); cursor++ {
			ev := result.Transcript[cursor]
			if string(ev.Kind) != step.Expect.Kind {
				continue
			}
			if step.Expect.Reason != "" && string(ev.Reason) != step.Expect.Reason {
				result.AddError(fmt.Sprintf(
					"scans[%d]: expected %s with reason %s, got reason %s",
					i, step.Expect.Kind, step.Expect.Reason, ev.Reason))
			}
			cursor++
			found = true
			break
		}
		if !found {
			result.AddError(fmt.Sprintf(
				"scans[%d]: no %s event found in transcript after position %d",
				i, step.Expect.Kind, cursor))
		}
	}
}

// evaluateAssertions checks the final assertions against the transcript and
// the ledger.
func evaluateAssertions(ctx context.Context, scenario *Scenario, led *ledger.Ledger, result *Result) {
	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertEventCount:
			count := 0
			for _, ev := range result.Transcript {
				if string(ev.Kind) == a.Kind {
					count++
				}
			}
			if count != a.Count {
				result.AddError(fmt.Sprintf(
					"assertions[%d]: expected %d %s events, got %d", i, a.Count, a.Kind, count))
			}

		case AssertHistoryContains:
			history, err := led.Snapshot(ctx)
			if err != nil {
				result.AddError(fmt.Sprintf("assertions[%d]: history read: %v", i, err))
				continue
			}
			found := false
			for _, o := range history {
				if o.OrderID == a.Order {
					found = true
					break
				}
			}
			if !found {
				result.AddError(fmt.Sprintf(
					"assertions[%d]: order %s not found in history", i, a.Order))
			}

		case AssertHistoryCount:
			history, err := led.Snapshot(ctx)
			if err != nil {
				result.AddError(fmt.Sprintf("assertions[%d]: history read: %v", i, err))
				continue
			}
			if len(history) != a.Count {
				result.AddError(fmt.Sprintf(
					"assertions[%d]: expected %d orders in history, got %d", i, a.Count, len(history)))
			}

		case AssertBlocked, AssertNotBlocked:
			blocked, err := led.IsBlocked(ctx, a.Order)
			if err != nil {
				result.AddError(fmt.Sprintf("assertions[%d]: blocked read: %v", i, err))
				continue
			}
			want := a.Type == AssertBlocked
			if blocked != want {
				result.AddError(fmt.Sprintf(
					"assertions[%d]: order %s blocked=%v, want %v", i, a.Order, blocked, want))
			}
		}
	}
}
