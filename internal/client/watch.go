package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/status"
)

const (
	resubscribeBase = time.Second
	resubscribeCap  = 30 * time.Second
)

// backoffDelay returns the wait before resubscribe attempt n: exponential
// from the base, capped. The attempt counter resets once a reattach
// succeeds.
func backoffDelay(attempt int) time.Duration {
	d := resubscribeBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= resubscribeCap {
			return resubscribeCap
		}
	}
	return d
}

// handleStreamFailures consumes stream-failure events and reattaches the
// named stream. Writes are attempt-once; only subscriptions retry.
func (c *Client) handleStreamFailures(events <-chan bus.Event) {
	for {
		select {
		case <-c.stopped():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			scope, _ := ev.Payload.(string)
			if scope == "" {
				continue
			}
			c.mu.Lock()
			sess := c.sess
			c.mu.Unlock()
			if sess == nil || !sess.owns(scope) {
				continue
			}
			c.transition(status.Degraded)
			go c.resubscribe(sess, scope)
		}
	}
}

func (c *Client) stopped() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.stopCh
}

func (sess *session) owns(scope string) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, ok := sess.attach[scope]
	return ok
}

// resubscribe retries attaching one stream with exponential backoff until
// it succeeds or the session ends.
func (c *Client) resubscribe(sess *session, scope string) {
	for {
		sess.mu.Lock()
		attempt := sess.attempts[scope]
		sess.attempts[scope] = attempt + 1
		sess.mu.Unlock()

		select {
		case <-sess.ctx.Done():
			return
		case <-time.After(backoffDelay(attempt)):
		}

		err := c.attachStream(sess, scope)
		if err == nil {
			sess.mu.Lock()
			sess.attempts[scope] = 0
			sess.mu.Unlock()
			c.logger.Info("stream reattached", zap.String("scope", scope), zap.Int("attempts", attempt+1))
			c.transition(status.Online)
			return
		}
		c.logger.Warn("stream reattach failed",
			zap.String("scope", scope), zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

// attachStream runs the stream's attach function and records its cancel,
// releasing any previous subscription for the same scope first.
func (c *Client) attachStream(sess *session, scope string) error {
	sess.mu.Lock()
	attach := sess.attach[scope]
	prev := sess.cancels[scope]
	sess.mu.Unlock()
	if attach == nil {
		return nil
	}
	if prev != nil {
		prev()
	}

	cancel, err := attach()
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.cancels[scope] = cancel
	sess.mu.Unlock()
	return nil
}
