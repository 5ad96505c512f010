package wsstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// Client implements docstore.Store over one websocket connection. A dropped
// connection fails every in-flight request and every open subscription; the
// caller owns reconnection.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	nextWatch uint64
	pending   map[uint64]chan frame
	watches   map[uint64]*docstore.Subscription
	closed    bool
}

// Dial connects to a perch document server. The token is passed as a bearer
// header; the server rejects the upgrade when it does not verify.
func Dial(ctx context.Context, url, token string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := map[string][]string{}
	if token != "" {
		header["Authorization"] = []string{"Bearer " + token}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan frame),
		watches: make(map[uint64]*docstore.Subscription),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.failAll(fmt.Errorf("%w: connection lost: %v", domain.ErrTransient, err))
			return
		}
		switch f.Type {
		case frameResponse:
			c.mu.Lock()
			ch := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case frameSnapshot:
			c.mu.Lock()
			sub := c.watches[f.WatchID]
			c.mu.Unlock()
			if sub != nil {
				sub.Deliver(f.Docs)
			}
		case frameWatchErr:
			c.mu.Lock()
			sub := c.watches[f.WatchID]
			delete(c.watches, f.WatchID)
			c.mu.Unlock()
			if sub != nil {
				sub.Fail(fmt.Errorf("%w: %s", domain.ErrTransient, f.Error))
			}
		default:
			c.logger.Warn("unknown frame type", zap.String("type", f.Type))
		}
	}
}

// failAll tears down every in-flight request and subscription. Runs once,
// when the read loop exits.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	watches := c.watches
	c.pending = make(map[uint64]chan frame)
	c.watches = make(map[uint64]*docstore.Subscription)
	c.closed = true
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- frame{Type: frameResponse, OK: false, Error: err.Error()}
	}
	for _, sub := range watches {
		sub.Fail(err)
	}
}

// roundTrip sends a request and blocks until its response or ctx ends.
func (c *Client) roundTrip(ctx context.Context, req request) (frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, fmt.Errorf("%w: store closed", domain.ErrTransient)
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan frame, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return frame{}, fmt.Errorf("%w: write failed: %v", domain.ErrTransient, err)
	}

	select {
	case f := <-ch:
		if !f.OK {
			if f.Code == codeNotFound {
				return frame{}, fmt.Errorf("%s: %w", f.Error, domain.ErrNotFound)
			}
			return frame{}, errors.New(f.Error)
		}
		return f, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) Get(ctx context.Context, key string) (docstore.Doc, error) {
	f, err := c.roundTrip(ctx, request{Op: opGet, Key: key})
	if err != nil {
		return docstore.Doc{}, err
	}
	if f.Doc == nil {
		return docstore.Doc{}, fmt.Errorf("get %q: %w", key, domain.ErrNotFound)
	}
	return *f.Doc, nil
}

func (c *Client) Set(ctx context.Context, doc docstore.Doc) error {
	_, err := c.roundTrip(ctx, request{Op: opSet, Doc: &doc})
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.roundTrip(ctx, request{Op: opDelete, Key: key})
	return err
}

func (c *Client) Query(ctx context.Context, q docstore.Query) ([]docstore.Doc, error) {
	wq := toWireQuery(q)
	f, err := c.roundTrip(ctx, request{Op: opQuery, Query: &wq})
	if err != nil {
		return nil, err
	}
	return f.Docs, nil
}

func (c *Client) Batch(ctx context.Context, ops []docstore.Op) error {
	wire := make([]wireOp, len(ops))
	for i, op := range ops {
		wire[i] = wireOp{Put: op.Put, Delete: op.Delete}
	}
	_, err := c.roundTrip(ctx, request{Op: opBatch, Ops: wire})
	return err
}

func (c *Client) Watch(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	// The client assigns the watch id and registers the subscription before
	// the request goes out, so a snapshot pushed ahead of the ack is never
	// dropped.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: store closed", domain.ErrTransient)
	}
	c.nextWatch++
	watchID := c.nextWatch
	c.mu.Unlock()

	sub := docstore.NewSubscription(func() {
		c.mu.Lock()
		delete(c.watches, watchID)
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			_ = c.writeJSON(request{Op: opUnwatch, WatchID: watchID})
		}
	})

	c.mu.Lock()
	c.watches[watchID] = sub
	c.mu.Unlock()

	wq := toWireQuery(q)
	if _, err := c.roundTrip(ctx, request{Op: opWatch, Query: &wq, WatchID: watchID}); err != nil {
		c.mu.Lock()
		delete(c.watches, watchID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	err := c.conn.Close()
	c.failAll(fmt.Errorf("%w: store closed", domain.ErrTransient))
	return err
}
