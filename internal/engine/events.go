package engine

import "github.com/kitoko/packline/internal/order"

// EventKind distinguishes the domain events the engine emits.
type EventKind string

const (
	// KindLoaded: an invoice was accepted and a fresh order is active.
	KindLoaded EventKind = "loaded"
	// KindRejected: a scan was refused; no state changed.
	KindRejected EventKind = "rejected"
	// KindProgressed: an item scan incremented a line count.
	KindProgressed EventKind = "progressed"
	// KindCompleted: the active order reached all targets and was recorded.
	KindCompleted EventKind = "completed"
)

// RejectReason categorizes why a scan was refused.
//
// Malformed payloads surface as InvalidInvoice or UnsupportedCode depending
// on the dispatch branch; the remaining reasons are business rules. All are
// expected, user-facing, and never corrupt state.
type RejectReason string

const (
	ReasonInvalidInvoice      RejectReason = "INVALID_INVOICE"
	ReasonUnsupportedCode     RejectReason = "UNSUPPORTED_CODE"
	ReasonAlreadyPacked       RejectReason = "ALREADY_PACKED"
	ReasonOrderInProgress     RejectReason = "ORDER_IN_PROGRESS"
	ReasonNoActiveOrder       RejectReason = "NO_ACTIVE_ORDER"
	ReasonSkuNotInOrder       RejectReason = "SKU_NOT_IN_ORDER"
	ReasonLineAlreadyComplete RejectReason = "LINE_ALREADY_COMPLETE"
	ReasonSignInRequired      RejectReason = "SIGN_IN_REQUIRED"
)

// Event is one domain event. Events are transient: reported once, not
// queued or accumulated. Seq comes from the engine's logical clock and
// totally orders events within a session.
type Event struct {
	ID      string    `json:"id"`
	Seq     int64     `json:"seq"`
	Kind    EventKind `json:"kind"`
	Message string    `json:"message"`

	OrderID string       `json:"orderId,omitempty"` // loaded, completed
	SKU     string       `json:"sku,omitempty"`     // progressed, SKU rejections
	Count   int          `json:"count,omitempty"`   // progressed: the new count
	Reason  RejectReason `json:"reason,omitempty"`  // rejected

	// Packed carries the history record on completion.
	Packed *order.PackedOrder `json:"packed,omitempty"`
}

// Notice is an advisory message for the operator, outside the event stream.
// Currently only produced when a completed order's cloud sync fails.
type Notice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// State is a point-in-time snapshot of the engine, safe to hand to a
// presentation layer: the progress is a deep copy and never aliases the
// engine's live state.
type State struct {
	OperatorEmail string          `json:"operatorEmail,omitempty"`
	Active        *order.Progress `json:"active,omitempty"`
	QueueLen      int             `json:"queueLen"`
}
