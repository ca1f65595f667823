package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitoko/packline/internal/auth"
	"github.com/kitoko/packline/internal/ledger"
	"github.com/kitoko/packline/internal/order"
	"github.com/kitoko/packline/internal/payload"
	"github.com/kitoko/packline/internal/testutil"
)

type uploadCall struct {
	Order order.PackedOrder
	UID   string
}

// stubBridge records uploads and optionally fails them.
type stubBridge struct {
	mu    sync.Mutex
	calls []uploadCall
	err   error
	done  chan struct{} // signalled once per upload
}

func newStubBridge() *stubBridge {
	return &stubBridge{done: make(chan struct{}, 16)}
}

func (b *stubBridge) Upload(_ context.Context, o order.PackedOrder, uid string) error {
	b.mu.Lock()
	b.calls = append(b.calls, uploadCall{Order: o, UID: uid})
	err := b.err
	b.mu.Unlock()
	b.done <- struct{}{}
	return err
}

func (b *stubBridge) Calls() []uploadCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uploadCall, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *stubBridge) waitForUpload(t *testing.T) {
	t.Helper()
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upload")
	}
}

var testSession = auth.Session{UID: "uid-1", Email: "packer@example.com"}

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger, *stubBridge) {
	t.Helper()
	l := ledger.New(ledger.NewMemKV())
	b := newStubBridge()
	e := New(l, b, testSession,
		WithTokens(&SeqGenerator{}),
		WithNow(testutil.NewSteppingClock(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), time.Second).Now),
	)
	return e, l, b
}

// drain collects everything currently buffered on an event channel.
func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func invoiceRaw(orderID string, lines ...order.Line) string {
	return payload.EncodeInvoice(order.Manifest{OrderID: orderID, Lines: lines})
}

func TestScanFlow_SingleLineOrder(t *testing.T) {
	e, l, b := newTestEngine(t)
	ctx := context.Background()
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindLoaded, events[0].Kind)
	assert.Equal(t, "A1", events[0].OrderID)

	// First unit: progressed, no completion.
	require.NoError(t, e.process(ctx, "X"))
	events = drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindProgressed, events[0].Kind)
	assert.Equal(t, "X", events[0].SKU)
	assert.Equal(t, 1, events[0].Count)

	snapshot := e.Snapshot()
	require.NotNil(t, snapshot.Active)
	assert.Equal(t, 1, snapshot.Active.Scanned["X"])
	assert.False(t, snapshot.Active.IsComplete())

	// Second unit: progressed then completed.
	require.NoError(t, e.process(ctx, "X"))
	events = drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, KindProgressed, events[0].Kind)
	assert.Equal(t, 2, events[0].Count)
	assert.Equal(t, KindCompleted, events[1].Kind)
	require.NotNil(t, events[1].Packed)
	assert.Equal(t, "A1", events[1].Packed.OrderID)
	assert.Equal(t, []order.PackedItem{{SKU: "X", Quantity: 2}}, events[1].Packed.Items)
	assert.Equal(t, "packer@example.com", events[1].Packed.OperatorEmail)

	// Ledger has the record and the block.
	history, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "A1", history[0].OrderID)

	blocked, err := l.IsBlocked(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Upload handed to the bridge with the session owner.
	b.waitForUpload(t)
	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "uid-1", calls[0].UID)
	assert.Equal(t, "A1", calls[0].Order.OrderID)
}

func TestInvoiceScan_AlreadyPacked(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))
	require.NoError(t, e.process(ctx, "X"))
	b.waitForUpload(t)

	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindRejected, events[0].Kind)
	assert.Equal(t, ReasonAlreadyPacked, events[0].Reason)
	assert.True(t, e.Snapshot().Active.IsComplete(), "completed order stays until superseded")
}

func TestInvoiceScan_OrderInProgress(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))
	require.NoError(t, e.process(ctx, "X"))

	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(ctx, invoiceRaw("B2", order.Line{SKU: "Y", Quantity: 1})))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonOrderInProgress, events[0].Reason)

	snapshot := e.Snapshot()
	assert.Equal(t, "A1", snapshot.Active.Manifest.OrderID, "incomplete order not interrupted")
	assert.Equal(t, 1, snapshot.Active.Scanned["X"])
}

func TestInvoiceScan_NewInvoiceSupersedesCompleted(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))
	require.NoError(t, e.process(ctx, "X"))
	b.waitForUpload(t)

	require.NoError(t, e.process(ctx, invoiceRaw("B2", order.Line{SKU: "Y", Quantity: 1})))

	snapshot := e.Snapshot()
	assert.Equal(t, "B2", snapshot.Active.Manifest.OrderID)
	assert.Empty(t, snapshot.Active.Scanned)
}

func TestInvoiceScan_Malformed(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ch, cancel := e.Subscribe()
	defer cancel()

	// Truncated base64. Carries the invoice prefix, so this is an invoice
	// error - never silently retried as an item scan.
	require.NoError(t, e.process(ctx, "PKG1:!!!"))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonInvalidInvoice, events[0].Reason)
	assert.Nil(t, e.Snapshot().Active, "no order loaded")
}

func TestInvoiceScan_DuplicateSKURejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	raw := invoiceRaw("A1",
		order.Line{SKU: "X", Quantity: 1},
		order.Line{SKU: "x", Quantity: 2},
	)
	require.NoError(t, e.process(context.Background(), raw))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonInvalidInvoice, events[0].Reason)
	assert.Nil(t, e.Snapshot().Active)
}

func TestInvoiceScan_EmptyManifestRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(context.Background(), invoiceRaw("A1")))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonInvalidInvoice, events[0].Reason)
}

func TestItemScan_NoActiveOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(context.Background(), "X"))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonNoActiveOrder, events[0].Reason)
}

func TestItemScan_AfterCompletionIsNoActiveOrder(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))
	require.NoError(t, e.process(ctx, "X"))
	b.waitForUpload(t)

	ch, cancel := e.Subscribe()
	defer cancel()
	require.NoError(t, e.process(ctx, "X"))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonNoActiveOrder, events[0].Reason)
}

func TestItemScan_SkuNotInOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))

	ch, cancel := e.Subscribe()
	defer cancel()
	require.NoError(t, e.process(ctx, "Y"))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonSkuNotInOrder, events[0].Reason)
	assert.Equal(t, "Y", events[0].SKU)
	assert.Empty(t, e.Snapshot().Active.Scanned, "counts unchanged")
}

func TestItemScan_CaseInsensitiveMatch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "Widget-X", Quantity: 2})))
	require.NoError(t, e.process(ctx, "widget-x"))
	require.NoError(t, e.process(ctx, "WIDGET-X"))

	snapshot := e.Snapshot()
	assert.Equal(t, 2, snapshot.Active.Scanned["Widget-X"], "counts keyed by manifest casing")
	assert.True(t, snapshot.Active.IsComplete())
}

func TestItemScan_StructuredPayload(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))
	require.NoError(t, e.process(ctx, payload.EncodeItem("X")))

	assert.True(t, e.Snapshot().Active.IsComplete())
}

func TestItemScan_MalformedStructuredPayload(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))

	ch, cancel := e.Subscribe()
	defer cancel()
	require.NoError(t, e.process(ctx, "PKT1:!!!"))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonUnsupportedCode, events[0].Reason)
}

func TestItemScan_OverscanIsInert(t *testing.T) {
	e, l, b := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1",
		order.Line{SKU: "X", Quantity: 1},
		order.Line{SKU: "Y", Quantity: 1},
	)))
	require.NoError(t, e.process(ctx, "X"))

	ch, cancel := e.Subscribe()
	defer cancel()

	// X is at target; re-scans are rejected without corrupting state.
	require.NoError(t, e.process(ctx, "X"))
	require.NoError(t, e.process(ctx, "X"))

	events := drain(ch)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, ReasonLineAlreadyComplete, ev.Reason)
		assert.Equal(t, "X", ev.SKU)
	}
	assert.Equal(t, 1, e.Snapshot().Active.Scanned["X"])

	// Completing Y triggers exactly one Completed event.
	require.NoError(t, e.process(ctx, "Y"))
	events = drain(ch)
	completed := 0
	for _, ev := range events {
		if ev.Kind == KindCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	b.waitForUpload(t)

	history, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestItemScan_NeverExceedsTarget(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx := context.Background()

	lines := []order.Line{
		{SKU: "X", Quantity: 3},
		{SKU: "Y", Quantity: 2},
	}
	require.NoError(t, e.process(ctx, invoiceRaw("A1", lines...)))

	// Interleave with heavy overscanning; counts must never exceed targets.
	sequence := []string{"X", "Y", "X", "X", "X", "Y", "Y", "X", "Y"}
	for _, sku := range sequence {
		require.NoError(t, e.process(ctx, sku))
		snapshot := e.Snapshot()
		for _, line := range lines {
			assert.LessOrEqual(t, snapshot.Active.Scanned[line.SKU], line.Quantity)
		}
	}
	assert.True(t, e.Snapshot().Active.IsComplete())
	b.waitForUpload(t)
}

func TestBlockedSet_DurableAcrossEngineRestart(t *testing.T) {
	kv := ledger.NewMemKV()
	l := ledger.New(kv)
	ctx := context.Background()

	b1 := newStubBridge()
	e1 := New(l, b1, testSession, WithTokens(&SeqGenerator{}))
	require.NoError(t, e1.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))
	require.NoError(t, e1.process(ctx, "X"))
	b1.waitForUpload(t)

	// Fresh engine over the same persisted ledger.
	b2 := newStubBridge()
	e2 := New(ledger.New(kv), b2, testSession, WithTokens(&SeqGenerator{}))
	ch, cancel := e2.Subscribe()
	defer cancel()

	require.NoError(t, e2.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonAlreadyPacked, events[0].Reason)
}

func TestSyncFailure_ProducesNoticeOnly(t *testing.T) {
	e, l, b := newTestEngine(t)
	b.err = errors.New("document store unreachable")
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))
	require.NoError(t, e.process(ctx, "X"))
	b.waitForUpload(t)

	select {
	case notice := <-e.Notices():
		assert.Contains(t, notice.Text, "A1")
		assert.Contains(t, notice.Text, "pending")
	case <-time.After(5 * time.Second):
		t.Fatal("expected a sync-pending notice")
	}

	// Local completion is authoritative regardless of upload outcome.
	blocked, err := l.IsBlocked(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, blocked)
	history, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestScan_SignInRequired(t *testing.T) {
	l := ledger.New(ledger.NewMemKV())
	e := New(l, newStubBridge(), auth.Session{}, WithTokens(&SeqGenerator{}))
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(context.Background(), invoiceRaw("A1", order.Line{SKU: "X", Quantity: 1})))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonSignInRequired, events[0].Reason)
}

func TestScan_EmptyRawIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(context.Background(), "   "))
	assert.Empty(t, drain(ch), "camera noise produces no events")
}

func TestScan_OversizedPayloadRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()
	ctx := context.Background()

	big := strings.Repeat("a", MaxScanBytes+1)
	require.NoError(t, e.process(ctx, "PKG1:"+big))
	require.NoError(t, e.process(ctx, big))

	events := drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, ReasonInvalidInvoice, events[0].Reason)
	assert.Equal(t, ReasonUnsupportedCode, events[1].Reason)
}

func TestEndSession_ClearsActiveOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))
	require.NotNil(t, e.Snapshot().Active)

	e.EndSession()

	snapshot := e.Snapshot()
	assert.Nil(t, snapshot.Active)
	assert.Empty(t, snapshot.OperatorEmail)
}

// An item scan can hold a reference to the order while EndSession detaches
// it from another goroutine. The commit must notice the detachment and
// refuse, never mutating the abandoned order or attributing work to the
// cleared session.
func TestEndSession_DetachedOrderRefusesCommit(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))

	e.mu.RLock()
	stale := e.active
	e.mu.RUnlock()
	require.NotNil(t, stale)

	e.EndSession()

	sess, count, ok := e.commitScan(stale, "X")
	assert.False(t, ok)
	assert.Zero(t, count)
	assert.Empty(t, sess.Email)
	assert.Equal(t, 0, stale.Scanned["X"], "detached order records no scans")

	// The full path also rejects once the order is detached.
	ch, cancel := e.Subscribe()
	defer cancel()
	require.NoError(t, e.process(ctx, "X"))
	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindRejected, events[0].Kind)
}

func TestSnapshot_DoesNotAliasLiveState(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))
	snapshot := e.Snapshot()
	snapshot.Active.Scanned["X"] = 99

	assert.Equal(t, 0, e.Snapshot().Active.Scanned["X"])
}

func TestEventSeq_StrictlyIncreasing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.process(ctx, invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))
	require.NoError(t, e.process(ctx, "X"))
	require.NoError(t, e.process(ctx, "Y"))

	events := drain(ch)
	require.NotEmpty(t, events)
	prev := int64(0)
	for _, ev := range events {
		assert.Greater(t, ev.Seq, prev)
		prev = ev.Seq
	}
}

func TestRunLoop_EndToEnd(t *testing.T) {
	e, l, b := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.True(t, e.Scan(invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))
	require.True(t, e.Scan("X"))
	require.True(t, e.Scan("X"))

	var completed bool
	deadline := time.After(5 * time.Second)
	for !completed {
		select {
		case ev := <-ch:
			if ev.Kind == KindCompleted {
				completed = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for completion")
		}
	}

	e.Stop()
	require.NoError(t, <-done)

	assert.False(t, e.Scan("X"), "scan after stop is refused")

	history, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, b.Calls(), 1)
}

// waitForKind receives events until one of the given kind arrives.
func waitForKind(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

// A burst enqueued before the loop starts leaves a pending wakeup token
// behind after the drain. The loop must treat that wakeup as stale and keep
// running, not mistake the empty queue for shutdown.
func TestRunLoop_SurvivesPreEnqueuedBurst(t *testing.T) {
	e, l, b := newTestEngine(t)

	require.True(t, e.Scan(invoiceRaw("A1", order.Line{SKU: "X", Quantity: 2})))
	require.True(t, e.Scan("X"))

	ch, cancel := e.Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	waitForKind(t, ch, KindProgressed)

	select {
	case err := <-done:
		t.Fatalf("run loop exited after draining the burst: err=%v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.True(t, e.Scan("X"), "engine still accepts scans after the burst")
	waitForKind(t, ch, KindCompleted)
	b.waitForUpload(t)

	e.Stop()
	require.NoError(t, <-done)

	history, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunLoop_ContextCancel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on context cancel")
	}
}
