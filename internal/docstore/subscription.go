package docstore

import "sync"

// Subscription is a live full-snapshot stream. Each value received from
// Snapshots is the entire current result set for the subscribed query, not a
// delta; consumers must treat repeated deliveries of unchanged data as
// idempotent. A terminal error arrives on Err, after which no further
// snapshots are delivered.
type Subscription struct {
	snapshots chan []Doc
	errs      chan error
	done      chan struct{}

	mu       sync.Mutex
	onCancel func()
	closed   bool
}

// NewSubscription creates a subscription whose Cancel invokes onCancel once.
// Intended for Store implementations.
func NewSubscription(onCancel func()) *Subscription {
	return &Subscription{
		snapshots: make(chan []Doc, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
		onCancel:  onCancel,
	}
}

// Snapshots returns the full-snapshot delivery channel.
func (s *Subscription) Snapshots() <-chan []Doc {
	return s.snapshots
}

// Err returns the terminal error channel.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

// Done is closed when Cancel runs. Consumer pumps select on it so a
// cancelled subscription does not strand them; Fail leaves it open because
// the terminal error still has to drain through Err.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel tears the subscription down. Idempotent and safe to call after the
// underlying connection already closed.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	onCancel := s.onCancel
	s.mu.Unlock()
	if onCancel != nil {
		onCancel()
	}
}

// Deliver hands a snapshot to the consumer, replacing any undrained pending
// snapshot. With full-replace semantics only the latest result set matters,
// so a slow consumer observes coalesced deliveries instead of a backlog.
// Intended for Store implementations.
func (s *Subscription) Deliver(docs []Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.snapshots <- docs:
	default:
		select {
		case <-s.snapshots:
		default:
		}
		s.snapshots <- docs
	}
}

// Fail delivers a terminal error and marks the subscription closed.
// Intended for Store implementations.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.errs <- err:
	default:
	}
}
