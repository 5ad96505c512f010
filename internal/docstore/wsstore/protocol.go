// Package wsstore carries the docstore contract over a websocket. Requests
// and responses are correlated by id; watch snapshots arrive as unsolicited
// pushes tagged with the watch id they belong to.
package wsstore

import "github.com/perch-im/perch/internal/docstore"

const (
	opGet     = "get"
	opSet     = "set"
	opDelete  = "delete"
	opQuery   = "query"
	opBatch   = "batch"
	opWatch   = "watch"
	opUnwatch = "unwatch"
)

const (
	frameResponse = "response"
	frameSnapshot = "snapshot"
	frameWatchErr = "watch_error"
)

const codeNotFound = "not_found"

type wireQuery struct {
	Key         string `json:"key,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Field       string `json:"field,omitempty"`
	Equals      string `json:"equals,omitempty"`
	ValuePrefix string `json:"valuePrefix,omitempty"`
}

func toWireQuery(q docstore.Query) wireQuery {
	return wireQuery{Key: q.Key, Prefix: q.Prefix, Field: q.Field, Equals: q.Equals, ValuePrefix: q.ValuePrefix}
}

func (q wireQuery) toQuery() docstore.Query {
	return docstore.Query{Key: q.Key, Prefix: q.Prefix, Field: q.Field, Equals: q.Equals, ValuePrefix: q.ValuePrefix}
}

type wireOp struct {
	Put    *docstore.Doc `json:"put,omitempty"`
	Delete string        `json:"delete,omitempty"`
}

type request struct {
	ID      uint64        `json:"id"`
	Op      string        `json:"op"`
	Key     string        `json:"key,omitempty"`
	Doc     *docstore.Doc `json:"doc,omitempty"`
	Query   *wireQuery    `json:"query,omitempty"`
	Ops     []wireOp      `json:"ops,omitempty"`
	WatchID uint64        `json:"watchId,omitempty"`
}

// frame is everything the server sends: request responses and watch pushes.
type frame struct {
	Type    string         `json:"type"`
	ID      uint64         `json:"id,omitempty"`
	OK      bool           `json:"ok,omitempty"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Doc     *docstore.Doc  `json:"doc,omitempty"`
	Docs    []docstore.Doc `json:"docs,omitempty"`
	WatchID uint64         `json:"watchId,omitempty"`
}
