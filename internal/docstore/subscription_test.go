package docstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelClosesDone(t *testing.T) {
	cancelled := 0
	sub := NewSubscription(func() { cancelled++ })

	select {
	case <-sub.Done():
		t.Fatal("done closed before cancel")
	default:
	}

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 1, cancelled)

	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed after cancel")
	}
}

func TestFailKeepsDoneOpen(t *testing.T) {
	sub := NewSubscription(nil)
	sub.Fail(errors.New("stream broke"))

	// The terminal error must still drain through Err; closing done here
	// would race it away from a consumer pump.
	select {
	case <-sub.Done():
		t.Fatal("done closed by fail")
	default:
	}
	require.Error(t, <-sub.Err())
}

func TestDeliverCoalescesToLatest(t *testing.T) {
	sub := NewSubscription(nil)
	sub.Deliver([]Doc{{Key: "a"}})
	sub.Deliver([]Doc{{Key: "a"}, {Key: "b"}})

	docs := <-sub.Snapshots()
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].Key)
}
