// Package engine implements the order-reconciliation engine.
//
// The engine owns the single active order's progress: it applies decoded
// scan payloads, enforces the packing business rules, and emits domain
// events (loaded / rejected / progressed / completed).
//
// ARCHITECTURE:
//
// Single-Writer Scan Loop:
// All scan processing happens in one goroutine for strict ordering. Scan
// events are dequeued FIFO and each runs to completion before the next is
// examined - two Scan() calls never interleave. This ensures:
// - Deterministic state transitions (no races on the active order)
// - Exactly-one Completed event per completed order
// - Ledger appends observe a consistent active state
//
// Scan Processing Flow:
// 1. Raw scans enqueued to FIFO queue from any goroutine (Scan())
// 2. Engine.Run() dequeues one at a time
// 3. Dispatch by invoice prefix: looks-like-invoice is decoded as an
//    invoice and reported as an invoice error on failure, never retried
//    as an item scan
// 4. Accepted invoices replace the active order; accepted item scans
//    increment exactly one unit
// 5. On completion the packed record is appended to the ledger, then
//    handed to the sync bridge on its own goroutine
//
// Remote sync is fire-and-forget: it never blocks the scan loop and its
// outcome never mutates committed local state - a failed upload only
// produces an advisory notice.
//
// All rejections are local, non-fatal, and reported once as events; no
// rejection mutates the active order or the ledger.
package engine
