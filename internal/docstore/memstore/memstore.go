// Package memstore is an in-memory implementation of the docstore contract.
// It backs tests and local mode, and the wsstore server bridges it onto a
// network transport.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// Store is a process-local document store with live watch fan-out.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]json.RawMessage
	watches map[int]*watch
	nextID  int
	closed  bool
}

type watch struct {
	query docstore.Query
	sub   *docstore.Subscription
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:    make(map[string]json.RawMessage),
		watches: make(map[int]*watch),
	}
}

// Get returns the document at key.
func (s *Store) Get(_ context.Context, key string) (docstore.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[key]
	if !ok {
		return docstore.Doc{}, fmt.Errorf("get %q: %w", key, domain.ErrNotFound)
	}
	return docstore.Doc{Key: key, Data: data}, nil
}

// Set creates or replaces a document and notifies affected watches.
func (s *Store) Set(_ context.Context, doc docstore.Doc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("set %q: store closed: %w", doc.Key, domain.ErrTransient)
	}
	s.docs[doc.Key] = doc.Data
	notify := s.affectedWatches(doc.Key)
	s.mu.Unlock()

	s.fanOut(notify)
	return nil
}

// Delete removes a document and notifies affected watches. Absent keys are
// a no-op.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if _, ok := s.docs[key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, key)
	notify := s.affectedWatches(key)
	s.mu.Unlock()

	s.fanOut(notify)
	return nil
}

// Query returns all matching documents sorted by key ascending.
func (s *Store) Query(_ context.Context, q docstore.Query) ([]docstore.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(q), nil
}

// Watch opens a live subscription for q. The current result set is delivered
// immediately, then again after every affecting change.
func (s *Store) Watch(_ context.Context, q docstore.Query) (*docstore.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("watch: store closed: %w", domain.ErrTransient)
	}
	id := s.nextID
	s.nextID++
	sub := docstore.NewSubscription(func() {
		s.mu.Lock()
		delete(s.watches, id)
		s.mu.Unlock()
	})
	s.watches[id] = &watch{query: q, sub: sub}
	initial := s.collect(q)
	s.mu.Unlock()

	sub.Deliver(initial)
	return sub, nil
}

// Batch applies all ops under one lock acquisition; watches observe either
// none or all of the batch.
func (s *Store) Batch(_ context.Context, ops []docstore.Op) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("batch: store closed: %w", domain.ErrTransient)
	}
	affected := make(map[int]*watch)
	for _, op := range ops {
		var key string
		switch {
		case op.Put != nil:
			s.docs[op.Put.Key] = op.Put.Data
			key = op.Put.Key
		case op.Delete != "":
			delete(s.docs, op.Delete)
			key = op.Delete
		default:
			continue
		}
		for id, w := range s.affectedWatches(key) {
			affected[id] = w
		}
	}
	s.mu.Unlock()

	s.fanOut(affected)
	return nil
}

// Close fails every outstanding subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	watches := s.watches
	s.watches = make(map[int]*watch)
	s.mu.Unlock()

	for _, w := range watches {
		w.sub.Fail(fmt.Errorf("store closed: %w", domain.ErrTransient))
	}
	return nil
}

// FailWatches fails every outstanding subscription with err without closing
// the store. Test hook for exercising resubscription policies.
func (s *Store) FailWatches(err error) {
	s.mu.Lock()
	watches := s.watches
	s.watches = make(map[int]*watch)
	s.mu.Unlock()

	for _, w := range watches {
		w.sub.Fail(err)
	}
}

// affectedWatches returns the watches whose key range covers key.
// Caller holds s.mu.
func (s *Store) affectedWatches(key string) map[int]*watch {
	affected := make(map[int]*watch)
	for id, w := range s.watches {
		q := w.query
		if q.Key != "" && q.Key == key {
			affected[id] = w
		}
		if q.Prefix != "" && strings.HasPrefix(key, q.Prefix) {
			affected[id] = w
		}
	}
	return affected
}

// fanOut re-collects and delivers the full result set for each watch.
func (s *Store) fanOut(watches map[int]*watch) {
	for _, w := range watches {
		s.mu.RLock()
		docs := s.collect(w.query)
		s.mu.RUnlock()
		w.sub.Deliver(docs)
	}
}

// collect evaluates q against the current document set. Caller holds s.mu.
func (s *Store) collect(q docstore.Query) []docstore.Doc {
	var out []docstore.Doc
	if q.Key != "" {
		if data, ok := s.docs[q.Key]; ok {
			out = append(out, docstore.Doc{Key: q.Key, Data: data})
		}
		return out
	}
	for key, data := range s.docs {
		if !strings.HasPrefix(key, q.Prefix) {
			continue
		}
		if q.Field != "" && !matchesField(data, q) {
			continue
		}
		out = append(out, docstore.Doc{Key: key, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func matchesField(data json.RawMessage, q docstore.Query) bool {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	val, ok := fields[q.Field].(string)
	if !ok {
		return false
	}
	if q.ValuePrefix != "" {
		return strings.HasPrefix(val, q.ValuePrefix)
	}
	return val == q.Equals
}
