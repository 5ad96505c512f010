package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

type testDoc struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func put(t *testing.T, s *Store, key string, v any) {
	t.Helper()
	doc, err := docstore.Encode(key, v)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), doc))
}

func waitSnapshot(t *testing.T, sub *docstore.Subscription) []docstore.Doc {
	t.Helper()
	select {
	case docs := <-sub.Snapshots():
		return docs
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return nil
}

func TestGetSetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	put(t, s, "users/u1", testDoc{Name: "Ada", Email: "ada@example.com"})

	doc, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	var got testDoc
	require.NoError(t, doc.Decode(&got))
	assert.Equal(t, "Ada", got.Name)

	require.NoError(t, s.Delete(ctx, "users/u1"))
	_, err = s.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting an absent key is a no-op.
	assert.NoError(t, s.Delete(ctx, "users/u1"))
}

func TestQueryPrefixSortedByKey(t *testing.T) {
	s := New()
	put(t, s, "contacts/a_c", testDoc{Name: "c"})
	put(t, s, "contacts/a_b", testDoc{Name: "b"})
	put(t, s, "contacts/z_a", testDoc{Name: "other owner"})

	docs, err := s.Query(context.Background(), docstore.Query{Prefix: "contacts/a_"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "contacts/a_b", docs[0].Key)
	assert.Equal(t, "contacts/a_c", docs[1].Key)
}

func TestQueryFieldFilters(t *testing.T) {
	s := New()
	put(t, s, "users/u1", testDoc{Name: "Ada", Email: "ada@example.com"})
	put(t, s, "users/u2", testDoc{Name: "Alan", Email: "alan@example.com"})

	docs, err := s.Query(context.Background(), docstore.Query{
		Prefix: "users/", Field: "email", Equals: "alan@example.com",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "users/u2", docs[0].Key)

	docs, err = s.Query(context.Background(), docstore.Query{
		Prefix: "users/", Field: "name", ValuePrefix: "A",
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestWatchDeliversInitialAndUpdates(t *testing.T) {
	s := New()
	put(t, s, "chats/c1/messages/m1", testDoc{Name: "one"})

	sub, err := s.Watch(context.Background(), docstore.Query{Prefix: "chats/c1/messages/"})
	require.NoError(t, err)
	defer sub.Cancel()

	initial := waitSnapshot(t, sub)
	assert.Len(t, initial, 1)

	put(t, s, "chats/c1/messages/m2", testDoc{Name: "two"})

	// Full-replace delivery: the whole result set arrives again.
	next := waitSnapshot(t, sub)
	assert.Len(t, next, 2)

	// Unrelated keys do not wake the watch.
	put(t, s, "chats/c2/messages/m1", testDoc{Name: "elsewhere"})
	select {
	case docs := <-sub.Snapshots():
		assert.Len(t, docs, 2, "snapshot should still cover only the watched prefix")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchKey(t *testing.T) {
	s := New()
	sub, err := s.Watch(context.Background(), docstore.Query{Key: "userchats/u1"})
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Empty(t, waitSnapshot(t, sub))

	put(t, s, "userchats/u1", testDoc{Name: "index"})
	assert.Len(t, waitSnapshot(t, sub), 1)
}

func TestBatchIsAtomicForWatchers(t *testing.T) {
	s := New()
	sub, err := s.Watch(context.Background(), docstore.Query{Prefix: "chats/c1/"})
	require.NoError(t, err)
	defer sub.Cancel()
	waitSnapshot(t, sub) // initial empty

	msg, err := docstore.Encode("chats/c1/messages/m1", testDoc{Name: "hello"})
	require.NoError(t, err)
	chat, err := docstore.Encode("chats/c1/meta", testDoc{Name: "summary"})
	require.NoError(t, err)
	require.NoError(t, s.Batch(context.Background(), []docstore.Op{
		{Put: &msg}, {Put: &chat},
	}))

	docs := waitSnapshot(t, sub)
	assert.Len(t, docs, 2, "watch must observe the whole batch at once")
}

func TestCancelIdempotentAndAfterClose(t *testing.T) {
	s := New()
	sub, err := s.Watch(context.Background(), docstore.Query{Prefix: "users/"})
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()

	sub2, err := s.Watch(context.Background(), docstore.Query{Prefix: "users/"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	select {
	case err := <-sub2.Err():
		assert.ErrorIs(t, err, domain.ErrTransient)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminal error")
	}
	sub2.Cancel() // safe after the connection already closed
}

func TestFailWatches(t *testing.T) {
	s := New()
	sub, err := s.Watch(context.Background(), docstore.Query{Prefix: "users/"})
	require.NoError(t, err)

	boom := errors.New("stream torn down")
	s.FailWatches(boom)

	select {
	case err := <-sub.Err():
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for injected failure")
	}

	// Store remains usable for new subscriptions.
	sub2, err := s.Watch(context.Background(), docstore.Query{Prefix: "users/"})
	require.NoError(t, err)
	sub2.Cancel()
}
