package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kitoko/packline/internal/auth"
	"github.com/kitoko/packline/internal/bridge"
	"github.com/kitoko/packline/internal/ledger"
	"github.com/kitoko/packline/internal/order"
	"github.com/kitoko/packline/internal/payload"
)

// MaxScanBytes caps the raw scan length accepted before decoding. Payloads
// are attacker-controlled strings from the camera; the codec itself does not
// enforce a bound.
const MaxScanBytes = 4096

// subscriberBuffer is the per-subscriber event channel capacity. A slow
// presentation layer drops its oldest events rather than blocking the loop.
const subscriberBuffer = 16

// Engine is the single-writer order-reconciliation engine.
//
// Thread-safety model:
//   - Scan(): safe from any goroutine (enqueue only)
//   - Run(): must be called from exactly one goroutine; all state
//     mutation happens there
//   - Snapshot(), Subscribe(), Notices(), EndSession(): safe from any
//     goroutine
type Engine struct {
	ledger *ledger.Ledger
	bridge bridge.Bridge
	clock  *Clock
	queue  *scanQueue
	tokens TokenGenerator
	now    func() time.Time

	// mu guards session and active for readers outside the Run loop.
	mu      sync.RWMutex
	session auth.Session
	active  *order.Progress

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	notices chan Notice
	uploads sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the wall-clock source. Tests use a stepping clock so
// startedAt/packedAt are deterministic.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTokens overrides the event ID generator.
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// New creates an Engine bound to a ledger, a sync bridge, and an operator
// session. The session is explicit: there is no ambient auth listener, and
// EndSession is the teardown step.
func New(l *ledger.Ledger, b bridge.Bridge, session auth.Session, opts ...Option) *Engine {
	e := &Engine{
		ledger:      l,
		bridge:      b,
		clock:       NewClock(),
		queue:       newScanQueue(),
		tokens:      UUIDv7Generator{},
		now:         time.Now,
		session:     session,
		subscribers: make(map[int]chan Event),
		notices:     make(chan Notice, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scan submits a raw scan string for processing by the Run loop.
// Thread-safe. Returns false if the engine has been stopped.
func (e *Engine) Scan(raw string) bool {
	return e.queue.Enqueue(raw)
}

// QueueLen returns the number of pending scans. Useful for monitoring.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer scan loop. Blocks until the context is
// cancelled or Stop() is called and the queue drains.
//
// ERROR HANDLING: a scan whose processing fails (ledger I/O) is logged with
// full context and the loop continues; rejections are events, not errors.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "operator", e.currentSession().Email)

	for {
		raw, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, raw); err != nil {
				slog.Error("scan processing failed", "error", err, "raw_len", len(raw))
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.uploads.Wait()
			return ctx.Err()

		case <-e.queue.Wait():
			// A buffered signal token can survive the drain when scans
			// arrive faster than they are processed, so an empty queue
			// alone does not mean shutdown. Only a closed, drained queue
			// ends the loop; a stale wakeup goes back to dequeuing.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				e.uploads.Wait()
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine: the queue stops accepting scans
// and Run returns after draining what is already enqueued.
func (e *Engine) Stop() {
	e.queue.Close()
}

// EndSession signs the operator out and discards any active order.
func (e *Engine) EndSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = auth.Session{}
	e.active = nil
}

// Snapshot returns a copy of the current engine state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		OperatorEmail: e.session.Email,
		Active:        e.active.Clone(),
		QueueLen:      e.queue.Len(),
	}
}

// Subscribe registers an observer for subsequent events. The returned
// cancel function must be called to release the subscription. A subscriber
// that falls behind loses its oldest buffered events; it never blocks the
// scan loop.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSubID
	e.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	e.subscribers[id] = ch

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Notices returns the advisory-message channel. Capacity 1, drop-oldest:
// only the latest pending notice is retained.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// process dispatches one raw scan. Called only from the Run loop.
//
// Dispatch is fixed: a string carrying the invoice prefix is an invoice,
// full stop. Decode failure on that branch is an invoice error, never
// retried as an item scan.
func (e *Engine) process(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	sess := e.currentSession()
	if !sess.SignedIn() {
		e.reject(ReasonSignInRequired, "Sign in required.", "", "")
		return nil
	}

	if payload.HasInvoicePrefix(raw) {
		if len(raw) > MaxScanBytes {
			e.reject(ReasonInvalidInvoice, "Invalid invoice payload.", "", "")
			return nil
		}
		return e.processInvoice(ctx, raw)
	}

	if len(raw) > MaxScanBytes {
		e.reject(ReasonUnsupportedCode, "Unsupported code.", "", "")
		return nil
	}
	return e.processItem(ctx, raw)
}

// processInvoice handles an invoice scan: NoActiveOrder or CompletedOrder
// transitions to ActiveOrder, or the scan is rejected.
func (e *Engine) processInvoice(ctx context.Context, raw string) error {
	manifest, err := payload.DecodeInvoice(raw)
	if err != nil {
		slog.Debug("invoice decode failed", "error", err)
		e.reject(ReasonInvalidInvoice, "Invalid invoice payload.", "", "")
		return nil
	}

	if len(manifest.Lines) == 0 {
		e.reject(ReasonInvalidInvoice, "Invoice has no items.", manifest.OrderID, "")
		return nil
	}
	if manifest.HasDuplicateSKUs() {
		// Duplicated lines are upstream data-entry corruption; merging
		// quantities would mask it.
		e.reject(ReasonInvalidInvoice, "Invoice repeats a SKU.", manifest.OrderID, "")
		return nil
	}

	blocked, err := e.ledger.IsBlocked(ctx, manifest.OrderID)
	if err != nil {
		return fmt.Errorf("check blocked set for %s: %w", manifest.OrderID, err)
	}
	if blocked {
		e.reject(ReasonAlreadyPacked, fmt.Sprintf("Order %s already packed.", manifest.OrderID), manifest.OrderID, "")
		return nil
	}

	e.mu.Lock()
	if e.active != nil && !e.active.IsComplete() {
		inFlight := e.active.Manifest.OrderID
		e.mu.Unlock()
		e.reject(ReasonOrderInProgress, fmt.Sprintf("Finish order %s first.", inFlight), manifest.OrderID, "")
		return nil
	}
	e.active = order.NewProgress(manifest, e.now().UnixMilli())
	e.mu.Unlock()

	e.emit(Event{
		Kind:    KindLoaded,
		OrderID: manifest.OrderID,
		Message: fmt.Sprintf("Invoice %s loaded.", manifest.OrderID),
	})
	return nil
}

// processItem handles a packet scan: ActiveOrder stays active or becomes
// CompletedOrder, or the scan is rejected.
func (e *Engine) processItem(ctx context.Context, raw string) error {
	e.mu.RLock()
	active := e.active
	e.mu.RUnlock()

	if active == nil || active.IsComplete() {
		e.reject(ReasonNoActiveOrder, "Scan invoice first.", "", "")
		return nil
	}

	sku, err := payload.DecodeItem(raw)
	if err != nil {
		slog.Debug("item decode failed", "error", err)
		e.reject(ReasonUnsupportedCode, "Unsupported code.", "", "")
		return nil
	}

	line, ok := active.Manifest.LineFor(sku)
	if !ok {
		e.reject(ReasonSkuNotInOrder, fmt.Sprintf("SKU %s not in order.", sku), active.Manifest.OrderID, sku)
		return nil
	}

	if active.CountFor(line.SKU) >= line.Quantity {
		// Overscanning is inert: re-scanning a packed item neither inflates
		// counts nor re-triggers completion.
		e.reject(ReasonLineAlreadyComplete, fmt.Sprintf("SKU %s already complete.", line.SKU), active.Manifest.OrderID, line.SKU)
		return nil
	}

	sess, count, ok := e.commitScan(active, line.SKU)
	if !ok {
		e.reject(ReasonNoActiveOrder, "Scan invoice first.", "", "")
		return nil
	}

	e.emit(Event{
		Kind:    KindProgressed,
		OrderID: active.Manifest.OrderID,
		SKU:     line.SKU,
		Count:   count,
		Message: fmt.Sprintf("%s %d/%d", line.SKU, count, line.Quantity),
	})

	if active.IsComplete() {
		return e.finalize(ctx, active, sess)
	}
	return nil
}

// commitScan increments a line count, but only if the order is still the
// engine's active one. EndSession can detach it from another goroutine
// between the lookup above and this point; a detached order must not
// record further scans. The session is captured in the same critical
// section so a completed order is attributed to the operator who packed it.
func (e *Engine) commitScan(active *order.Progress, sku string) (auth.Session, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != active {
		return auth.Session{}, 0, false
	}
	active.Scanned[sku]++
	return e.session, active.Scanned[sku], true
}

// finalize records a completed order: it stamps completedAt, synthesizes
// the packed record from the manifest's required quantities (equal to the
// scanned counts at this point, by invariant), appends it to the ledger,
// and hands it to the sync bridge.
//
// The ledger append must succeed; on failure the completion event is
// withheld and the error is logged by the Run loop. The in-memory state
// still transitions to completed so the order cannot re-trigger.
func (e *Engine) finalize(ctx context.Context, active *order.Progress, sess auth.Session) error {
	completedAt := e.now().UnixMilli()

	e.mu.Lock()
	active.CompletedAt = completedAt
	e.mu.Unlock()

	items := make([]order.PackedItem, len(active.Manifest.Lines))
	for i, line := range active.Manifest.Lines {
		items[i] = order.PackedItem{SKU: line.SKU, Quantity: line.Quantity}
	}
	packed := order.PackedOrder{
		OrderID:       active.Manifest.OrderID,
		PackedAt:      completedAt,
		OperatorEmail: sess.Email,
		Items:         items,
	}

	if err := e.ledger.Append(ctx, packed); err != nil {
		return fmt.Errorf("record completed order %s: %w", packed.OrderID, err)
	}

	slog.Info("order packed",
		"order_id", packed.OrderID,
		"items", len(packed.Items),
		"operator", sess.Email,
	)

	e.emit(Event{
		Kind:    KindCompleted,
		OrderID: packed.OrderID,
		Message: fmt.Sprintf("Order %s packed.", packed.OrderID),
		Packed:  &packed,
	})

	// Fire-and-forget: the upload never blocks the scan loop and its
	// outcome never touches committed local state.
	e.uploads.Add(1)
	go e.pushRemote(packed, sess.UID)

	return nil
}

// pushRemote uploads a packed order on its own goroutine. Failure is soft:
// a warning log plus an advisory notice, no retry here.
func (e *Engine) pushRemote(packed order.PackedOrder, ownerUID string) {
	defer e.uploads.Done()

	// Independent of the scan loop's context: engine shutdown should not
	// cancel an in-flight upload. The bridge bounds its own attempt.
	if err := e.bridge.Upload(context.Background(), packed, ownerUID); err != nil {
		slog.Warn("cloud sync failed, order retained locally",
			"order_id", packed.OrderID,
			"error", err,
		)
		e.notify(fmt.Sprintf("Order %s synced locally. Cloud sync pending.", packed.OrderID))
	}
}

func (e *Engine) currentSession() auth.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

func (e *Engine) reject(reason RejectReason, message, orderID, sku string) {
	e.emit(Event{
		Kind:    KindRejected,
		Reason:  reason,
		Message: message,
		OrderID: orderID,
		SKU:     sku,
	})
}

// emit stamps and fans an event out to subscribers. Slow subscribers drop
// their oldest buffered event rather than stalling the loop.
func (e *Engine) emit(ev Event) {
	ev.ID = e.tokens.Generate()
	ev.Seq = e.clock.Next()

	slog.Debug("event",
		"kind", ev.Kind,
		"seq", ev.Seq,
		"reason", ev.Reason,
		"order_id", ev.OrderID,
		"sku", ev.SKU,
	)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// notify publishes an advisory notice, retaining only the newest when the
// previous one has not been consumed.
func (e *Engine) notify(text string) {
	n := Notice{ID: e.tokens.Generate(), Text: text}
	for {
		select {
		case e.notices <- n:
			return
		default:
			select {
			case <-e.notices:
			default:
			}
		}
	}
}
