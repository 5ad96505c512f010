// Package docstore defines the narrow contract this client requires from the
// remote document database: point reads and writes by composite key, prefix
// and field queries, atomic multi-document batches, and live subscriptions
// that re-deliver the full matching result set on every change.
package docstore

import (
	"context"
	"encoding/json"
)

// Doc is one stored document: a composite key plus a JSON object body.
type Doc struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the document body into v.
func (d *Doc) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Encode builds a Doc from a key and any JSON-marshalable value.
func Encode(key string, v any) (Doc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Doc{}, err
	}
	return Doc{Key: key, Data: data}, nil
}

// Query selects a set of documents. Exactly one of Key and Prefix must be
// set; the field filters further narrow a prefix match and apply to top-level
// string fields only.
type Query struct {
	// Key selects a single document by exact key.
	Key string
	// Prefix selects all documents whose key starts with this prefix.
	Prefix string
	// Field names a top-level string field to filter on.
	Field string
	// Equals matches documents whose Field equals this value.
	Equals string
	// ValuePrefix matches documents whose Field starts with this value.
	// Mutually exclusive with Equals.
	ValuePrefix string
}

// Op is one entry of an atomic batch: a put or a delete.
type Op struct {
	Put    *Doc
	Delete string
}

// Store is the remote document store contract. Implementations must deliver
// query results sorted by key ascending, and Watch must deliver the full
// current result set immediately on subscription and again after every
// change that affects the query.
type Store interface {
	// Get returns the document at key, or domain.ErrNotFound.
	Get(ctx context.Context, key string) (Doc, error)
	// Set creates or replaces the document at doc.Key.
	Set(ctx context.Context, doc Doc) error
	// Delete removes the document at key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Query returns all documents matching q, sorted by key ascending.
	Query(ctx context.Context, q Query) ([]Doc, error)
	// Watch opens a live full-snapshot subscription for q.
	Watch(ctx context.Context, q Query) (*Subscription, error)
	// Batch applies all ops atomically: either every op commits or none does.
	Batch(ctx context.Context, ops []Op) error
	// Close releases the connection. Outstanding subscriptions fail.
	Close() error
}
