package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	connCh, unsub1 := b.Subscribe("conn.", 10)
	defer unsub1()
	msgCh, unsub2 := b.Subscribe("message.", 10)
	defer unsub2()

	b.Publish(Event{Kind: KindSendAck, Timestamp: time.Now()})

	select {
	case <-msgCh:
	case <-time.After(time.Second):
		t.Fatal("message. subscriber did not receive message.send_ack")
	}

	select {
	case evt := <-connCh:
		t.Errorf("conn. subscriber received unrelated event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSignedIn, Timestamp: time.Now()})
	b.Publish(Event{Kind: KindStateChanged, Timestamp: time.Now()})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("state.", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindStateChanged, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Kind: KindSignedIn, Timestamp: time.Now()})

	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
