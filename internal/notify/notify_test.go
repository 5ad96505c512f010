package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-im/perch/internal/docstore/memstore"
	"github.com/perch-im/perch/internal/domain"
)

func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	store := memstore.New()
	t.Cleanup(func() { store.Close() })
	return New(store, nil, nil)
}

func TestSendAssignsIDAndTimestamp(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	note, err := f.Send(ctx, domain.Notification{
		RecipientID: "bob",
		SenderID:    "alice",
		Type:        domain.NotificationMessage,
		Body:        "hi",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, note.ID)
	assert.NotZero(t, note.CreatedAt)
	assert.False(t, note.IsRead)

	_, err = f.Send(ctx, domain.Notification{SenderID: "alice"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListFiltersByRecipientNewestFirst(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	first, err := f.Send(ctx, domain.Notification{RecipientID: "bob", Body: "one"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.Send(ctx, domain.Notification{RecipientID: "bob", Body: "two"})
	require.NoError(t, err)
	_, err = f.Send(ctx, domain.Notification{RecipientID: "carol", Body: "other feed"})
	require.NoError(t, err)

	notes, err := f.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, second.ID, notes[0].ID)
	assert.Equal(t, first.ID, notes[1].ID)
}

func TestContactAddedShape(t *testing.T) {
	f := newTestFeed(t)

	note, err := f.ContactAdded(context.Background(), "bob", domain.Identity{
		ID: "alice", DisplayName: "Alice", PhotoURL: "p.png",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationContactAdded, note.Type)
	assert.Equal(t, "alice", note.SenderID)
	assert.Contains(t, note.Body, "Alice")
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	a, err := f.Send(ctx, domain.Notification{RecipientID: "bob", Body: "a"})
	require.NoError(t, err)
	_, err = f.Send(ctx, domain.Notification{RecipientID: "bob", Body: "b"})
	require.NoError(t, err)

	count, err := f.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, f.MarkRead(ctx, a.ID))
	require.NoError(t, f.MarkRead(ctx, a.ID))

	count, err = f.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, f.MarkAllRead(ctx, "bob"))
	count, err = f.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDelete(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	note, err := f.Send(ctx, domain.Notification{RecipientID: "bob", Body: "bye"})
	require.NoError(t, err)
	require.NoError(t, f.Delete(ctx, note.ID))

	notes, err := f.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestSubscribeDeliversFeedChanges(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	deliveries := make(chan []domain.Notification, 16)
	cancel, err := f.Subscribe(ctx, "bob", func(notes []domain.Notification) {
		deliveries <- notes
	})
	require.NoError(t, err)
	defer cancel()

	// Initial snapshot is empty.
	waitForNotes(t, deliveries, 0)

	_, err = f.Send(ctx, domain.Notification{RecipientID: "bob", Body: "new"})
	require.NoError(t, err)
	notes := waitForNotes(t, deliveries, 1)
	assert.Equal(t, "new", notes[0].Body)
}

func waitForNotes(t *testing.T, deliveries chan []domain.Notification, want int) []domain.Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case notes := <-deliveries:
			if len(notes) == want {
				return notes
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d notifications", want)
		}
	}
}
