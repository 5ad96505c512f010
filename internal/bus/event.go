package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix, so kinds are grouped
// by the dot-separated segment before the verb.
const (
	// session.* — identity lifecycle.
	KindSignedIn  = "session.signed_in"
	KindSignedOut = "session.signed_out"

	// conn.* — connectivity state machine.
	KindStatusChanged = "conn.status_changed"

	// sync.* — subscription streams feeding the reconciliation store.
	// Payload: the stream scope string, e.g. "contacts:<uid>".
	KindStreamFailed = "sync.stream_failed"

	// state.* — reconciliation store updates. Payload: field name.
	KindStateChanged = "state.changed"

	// message.* — optimistic send lifecycle. Payload: client message id.
	KindSendPending = "message.send_pending"
	KindSendAck     = "message.send_ack"
	KindSendFailed  = "message.send_failed"

	// notify.* — notification feed.
	KindNotificationSent = "notify.sent"
)
