package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/docstore/memstore"
	"github.com/perch-im/perch/internal/domain"
	"github.com/perch-im/perch/internal/identity"
)

func seedUser(t *testing.T, store docstore.Store, id, email, name string) {
	t.Helper()
	_, err := identity.EnsureUser(context.Background(), store, domain.Identity{
		ID: id, Email: email, DisplayName: name,
	})
	require.NoError(t, err)
}

func newTestDirectory(t *testing.T) (*Directory, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	seedUser(t, store, "u1", "ada@example.com", "Ada")
	seedUser(t, store, "u2", "alan@example.com", "Alan")
	seedUser(t, store, "u3", "grace@example.com", "Grace")
	return New(store, bus.New(), nil), store
}

func TestAddByUidWritesBothDirections(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	edge, err := d.AddByUID(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", edge.OwnerID)
	assert.Equal(t, "u2", edge.ContactID)
	assert.Equal(t, "alan@example.com", edge.Email)
	assert.NotZero(t, edge.AddedAt)

	// Reciprocity: the reverse edge exists and snapshots the owner.
	doc, err := store.Get(ctx, domain.ContactKey("u2", "u1"))
	require.NoError(t, err)
	var reverse domain.ContactEdge
	require.NoError(t, doc.Decode(&reverse))
	assert.Equal(t, "u2", reverse.OwnerID)
	assert.Equal(t, "u1", reverse.ContactID)
	assert.Equal(t, "ada@example.com", reverse.Email)
	assert.Equal(t, edge.AddedAt, reverse.AddedAt)
}

func TestAddByEmail(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	edge, err := d.AddByEmail(ctx, "u1", "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u3", edge.ContactID)

	_, err = d.AddByEmail(ctx, "u1", "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = d.AddByEmail(ctx, "u1", "ada@example.com")
	assert.ErrorIs(t, err, domain.ErrSelfReference)
}

func TestAddFailureModes(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.AddByUID(ctx, "u1", "u1")
	assert.ErrorIs(t, err, domain.ErrSelfReference)

	_, err = d.AddByUID(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = d.AddByUID(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = d.AddByUID(ctx, "u1", "u2")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

// failSecondSet fails the Nth Set call; everything else passes through.
type failingStore struct {
	docstore.Store
	failOnKey string
}

func (f *failingStore) Set(ctx context.Context, doc docstore.Doc) error {
	if doc.Key == f.failOnKey {
		return errors.New("write rejected")
	}
	return f.Store.Set(ctx, doc)
}

// The reciprocal writes are deliberately not atomic: a failed reverse write
// leaves the forward edge behind. This pins the documented behavior instead
// of silently transactionalizing it.
func TestAddByUidForwardEdgeSurvivesReverseFailure(t *testing.T) {
	inner := memstore.New()
	seedUser(t, inner, "u1", "ada@example.com", "Ada")
	seedUser(t, inner, "u2", "alan@example.com", "Alan")
	store := &failingStore{Store: inner, failOnKey: domain.ContactKey("u2", "u1")}
	d := New(store, nil, nil)
	ctx := context.Background()

	_, err := d.AddByUID(ctx, "u1", "u2")
	require.Error(t, err)

	// Forward edge committed, reverse missing: one-directional relation.
	_, err = inner.Get(ctx, domain.ContactKey("u1", "u2"))
	assert.NoError(t, err)
	_, err = inner.Get(ctx, domain.ContactKey("u2", "u1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveDeletesBothDirections(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.AddByUID(ctx, "u1", "u2")
	require.NoError(t, err)
	require.NoError(t, d.Remove(ctx, "u1", "u2"))

	_, err = store.Get(ctx, domain.ContactKey("u1", "u2"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Get(ctx, domain.ContactKey("u2", "u1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := d.IsContact(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscribeDeliversFullSnapshots(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	snapshots := make(chan []domain.ContactEdge, 8)
	unsub, err := d.Subscribe(ctx, "u1", func(edges []domain.ContactEdge) {
		snapshots <- edges
	})
	require.NoError(t, err)
	defer unsub()

	assert.Empty(t, waitEdges(t, snapshots))

	_, err = d.AddByUID(ctx, "u1", "u2")
	require.NoError(t, err)
	edges := waitEdges(t, snapshots)
	require.Len(t, edges, 1)
	assert.Equal(t, "u2", edges[0].ContactID)

	// Each delivery is the whole current list, not a delta.
	_, err = d.AddByUID(ctx, "u1", "u3")
	require.NoError(t, err)
	edges = waitForCount(t, snapshots, 2)
	assert.Equal(t, "u2", edges[0].ContactID, "ordered by composite key")
	assert.Equal(t, "u3", edges[1].ContactID)

	// Removal shrinks the delivered set on both sides (Scenario D).
	require.NoError(t, d.Remove(ctx, "u1", "u2"))
	edges = waitForCount(t, snapshots, 1)
	assert.Equal(t, "u3", edges[0].ContactID)
}

func waitEdges(t *testing.T, ch chan []domain.ContactEdge) []domain.ContactEdge {
	t.Helper()
	select {
	case edges := <-ch:
		return edges
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for contact snapshot")
		return nil
	}
}

// waitForCount skips coalesced intermediate deliveries.
func waitForCount(t *testing.T, ch chan []domain.ContactEdge, n int) []domain.ContactEdge {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case edges := <-ch:
			if len(edges) == n {
				return edges
			}
		case <-deadline:
			t.Fatalf("timeout waiting for snapshot with %d edges", n)
			return nil
		}
	}
}

func TestSubscribeAnnouncesStreamFailure(t *testing.T) {
	store := memstore.New()
	b := bus.New()
	d := New(store, b, nil)

	failures, unsubBus := b.Subscribe("sync.", 4)
	defer unsubBus()

	unsub, err := d.Subscribe(context.Background(), "u1", func([]domain.ContactEdge) {})
	require.NoError(t, err)
	defer unsub()

	store.FailWatches(errors.New("backend hiccup"))

	select {
	case evt := <-failures:
		assert.Equal(t, bus.KindStreamFailed, evt.Kind)
		assert.Equal(t, "contacts:u1", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream failure event")
	}
}

func TestSearch(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	// Email prefix match, lower-cased term.
	users, err := d.Search(ctx, "ADA", "u2")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)

	// Name pass is case-sensitive and de-duplicated against the email pass.
	users, err = d.Search(ctx, "A", "")
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, u := range users {
		require.False(t, ids[u.ID], "duplicate user %s", u.ID)
		ids[u.ID] = true
	}
	assert.True(t, ids["u1"], "Ada matches by name")
	assert.True(t, ids["u2"], "alan@… matches by email prefix a")

	// Exclusion applies to both passes.
	users, err = d.Search(ctx, "a", "u2")
	require.NoError(t, err)
	for _, u := range users {
		assert.NotEqual(t, "u2", u.ID)
	}

	// Email-shaped terms skip the name pass.
	users, err = d.Search(ctx, "grace@", "")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u3", users[0].ID)
}

func TestUpdatePresenceRefreshesAllEdges(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.AddByUID(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = d.AddByUID(ctx, "u3", "u2")
	require.NoError(t, err)

	require.NoError(t, d.UpdatePresence(ctx, "u2", false))

	for _, owner := range []string{"u1", "u3"} {
		doc, err := store.Get(ctx, domain.ContactKey(owner, "u2"))
		require.NoError(t, err)
		var edge domain.ContactEdge
		require.NoError(t, doc.Decode(&edge))
		assert.False(t, edge.IsOnline, "edge %s should be offline", doc.Key)
	}
}
