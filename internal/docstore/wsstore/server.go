package wsstore

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// Server exposes a backing docstore.Store over websocket connections. It is
// the host side of the Client protocol; in production the backend is the
// hosted document database, in tests a memstore.
type Server struct {
	backend  docstore.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// verify, when set, gates the upgrade on the bearer token.
	verify func(token string) error
}

func NewServer(backend docstore.Store, verify func(token string) error, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		backend: backend,
		logger:  logger,
		verify:  verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.verify != nil {
		token := bearerToken(r)
		if err := s.verify(token); err != nil {
			s.logger.Warn("rejected connection", zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	s.serveConn(conn)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// session is one connection's state: its write mutex and open watches.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	watches map[uint64]*serverWatch
}

// serverWatch pairs a backend subscription with the stop signal that ends
// its pump goroutine.
type serverWatch struct {
	sub  *docstore.Subscription
	done chan struct{}
	once sync.Once
}

func (w *serverWatch) stop() {
	w.once.Do(func() {
		close(w.done)
		w.sub.Cancel()
	})
}

func (s *Server) serveConn(conn *websocket.Conn) {
	sess := &session{
		conn:    conn,
		watches: make(map[uint64]*serverWatch),
	}
	defer func() {
		sess.mu.Lock()
		watches := sess.watches
		sess.watches = make(map[uint64]*serverWatch)
		sess.mu.Unlock()
		for _, w := range watches {
			w.stop()
		}
		_ = conn.Close()
	}()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection ended", zap.Error(err))
			}
			return
		}
		s.handle(sess, req)
	}
}

func (s *Server) handle(sess *session, req request) {
	ctx := context.Background()
	switch req.Op {
	case opGet:
		doc, err := s.backend.Get(ctx, req.Key)
		if err != nil {
			s.respondErr(sess, req.ID, err)
			return
		}
		s.respond(sess, frame{Type: frameResponse, ID: req.ID, OK: true, Doc: &doc})
	case opSet:
		if req.Doc == nil {
			s.respondErr(sess, req.ID, errors.New("set without doc"))
			return
		}
		s.respondOutcome(sess, req.ID, s.backend.Set(ctx, *req.Doc))
	case opDelete:
		s.respondOutcome(sess, req.ID, s.backend.Delete(ctx, req.Key))
	case opQuery:
		if req.Query == nil {
			s.respondErr(sess, req.ID, errors.New("query without query"))
			return
		}
		docs, err := s.backend.Query(ctx, req.Query.toQuery())
		if err != nil {
			s.respondErr(sess, req.ID, err)
			return
		}
		s.respond(sess, frame{Type: frameResponse, ID: req.ID, OK: true, Docs: docs})
	case opBatch:
		ops := make([]docstore.Op, len(req.Ops))
		for i, op := range req.Ops {
			ops[i] = docstore.Op{Put: op.Put, Delete: op.Delete}
		}
		s.respondOutcome(sess, req.ID, s.backend.Batch(ctx, ops))
	case opWatch:
		s.handleWatch(sess, req)
	case opUnwatch:
		sess.mu.Lock()
		w := sess.watches[req.WatchID]
		delete(sess.watches, req.WatchID)
		sess.mu.Unlock()
		if w != nil {
			w.stop()
		}
	default:
		s.respondErr(sess, req.ID, errors.New("unknown op "+req.Op))
	}
}

func (s *Server) handleWatch(sess *session, req request) {
	if req.Query == nil || req.WatchID == 0 {
		s.respondErr(sess, req.ID, errors.New("watch needs a query and a watch id"))
		return
	}
	sub, err := s.backend.Watch(context.Background(), req.Query.toQuery())
	if err != nil {
		s.respondErr(sess, req.ID, err)
		return
	}

	w := &serverWatch{sub: sub, done: make(chan struct{})}
	sess.mu.Lock()
	sess.watches[req.WatchID] = w
	sess.mu.Unlock()

	s.respond(sess, frame{Type: frameResponse, ID: req.ID, OK: true, WatchID: req.WatchID})

	go func() {
		for {
			select {
			case docs := <-sub.Snapshots():
				s.respond(sess, frame{Type: frameSnapshot, WatchID: req.WatchID, Docs: docs})
			case err := <-sub.Err():
				s.respond(sess, frame{Type: frameWatchErr, WatchID: req.WatchID, Error: err.Error()})
				sess.mu.Lock()
				delete(sess.watches, req.WatchID)
				sess.mu.Unlock()
				return
			case <-w.done:
				return
			}
		}
	}()
}

func (s *Server) respondOutcome(sess *session, id uint64, err error) {
	if err != nil {
		s.respondErr(sess, id, err)
		return
	}
	s.respond(sess, frame{Type: frameResponse, ID: id, OK: true})
}

func (s *Server) respondErr(sess *session, id uint64, err error) {
	f := frame{Type: frameResponse, ID: id, Error: err.Error()}
	if errors.Is(err, domain.ErrNotFound) {
		f.Code = codeNotFound
	}
	s.respond(sess, f)
}

func (s *Server) respond(sess *session, f frame) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteJSON(f); err != nil {
		s.logger.Debug("write failed", zap.Error(err))
	}
}
