package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scan-sequence test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Operator is the signed-in operator email. Empty means no session,
	// which exercises the sign-in-required rejection.
	Operator string `yaml:"operator,omitempty"`

	// Scans is the ordered sequence of scans to feed the engine.
	Scans []ScanStep `yaml:"scans"`

	// Assertions validate the final transcript and ledger.
	Assertions []Assertion `yaml:"assertions"`
}

// ScanStep is one scan. Exactly one of Invoice, Item, or Raw must be set:
// Invoice and Item are encoded into their scannable payloads, Raw is fed to
// the engine verbatim.
type ScanStep struct {
	Invoice *InvoiceStep `yaml:"invoice,omitempty"`
	Item    string       `yaml:"item,omitempty"`
	Raw     string       `yaml:"raw,omitempty"`

	// Expect validates the events this scan produced. If nil, the scan's
	// outcome is recorded in the transcript but not checked here.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// InvoiceStep describes an order manifest to encode as an invoice payload.
// Lines map SKU to required quantity; they are encoded in SKU order.
type InvoiceStep struct {
	Order string         `yaml:"order"`
	Lines map[string]int `yaml:"lines"`
}

// ExpectClause specifies the expected first event for a scan.
type ExpectClause struct {
	// Kind is the expected event kind: loaded, rejected, progressed,
	// completed.
	Kind string `yaml:"kind"`

	// Reason is the expected rejection reason, for kind: rejected.
	Reason string `yaml:"reason,omitempty"`
}

// Assertion validates the transcript or the ledger after all scans.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_count": Kind appears exactly Count times in the transcript
	// - "history_contains": Order is present in the packed history
	// - "history_count": history holds exactly Count orders
	// - "blocked": Order is in the blocked set
	// - "not_blocked": Order is absent from the blocked set
	Type string `yaml:"type"`

	Kind  string `yaml:"kind,omitempty"`
	Order string `yaml:"order,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount      = "event_count"
	AssertHistoryContains = "history_contains"
	AssertHistoryCount    = "history_count"
	AssertBlocked         = "blocked"
	AssertNotBlocked      = "not_blocked"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo like "assertion:" fails loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Scans) == 0 {
		return fmt.Errorf("scans list is required and must be non-empty")
	}

	for i, step := range s.Scans {
		set := 0
		if step.Invoice != nil {
			set++
			if step.Invoice.Order == "" {
				return fmt.Errorf("scans[%d].invoice: order is required", i)
			}
			for sku, qty := range step.Invoice.Lines {
				if qty < 1 {
					return fmt.Errorf("scans[%d].invoice: quantity for %s must be positive", i, sku)
				}
			}
		}
		if step.Item != "" {
			set++
		}
		if step.Raw != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("scans[%d]: exactly one of invoice, item, raw is required", i)
		}
		if step.Expect != nil && step.Expect.Kind == "" {
			return fmt.Errorf("scans[%d].expect: kind is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertHistoryContains, AssertBlocked, AssertNotBlocked:
		if a.Order == "" {
			return fmt.Errorf("assertions[%d]: order is required for %s", index, a.Type)
		}
	case AssertHistoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
