// Package harness runs scan scenarios against the real packing engine.
//
// A scenario is a YAML file describing an operator, a sequence of scans
// (invoices, packets, or raw payloads), per-scan expectations, and final
// assertions on the event transcript and the ledger. Each scenario runs in
// a fresh in-memory ledger with deterministic tokens and timestamps, so the
// transcript is stable enough for golden-file comparison.
package harness
