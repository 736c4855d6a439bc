package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(4)
	defer unsubscribe()

	b.Publish(Event{Kind: KindStepStarted, Step: 1, Message: "starting"})

	select {
	case ev := <-ch:
		assert.Equal(t, KindStepStarted, ev.Kind)
		assert.Equal(t, 1, ev.Step)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindBudgetUpdate, Step: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
	<-ch
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(4)
	unsubscribe()

	b.Publish(Event{Kind: KindCompleted})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBus_SubscriberCount(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.SubscriberCount())
	_, unsub1 := b.Subscribe(1)
	_, unsub2 := b.Subscribe(1)
	assert.Equal(t, 2, b.SubscriberCount())
	unsub1()
	assert.Equal(t, 1, b.SubscriberCount())
	unsub2()
}

func TestBus_EssentialEventEvictsOldestOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Publish(Event{Kind: KindBudgetUpdate, Message: "stale"})
	b.Publish(Event{Kind: KindCompleted, Message: "final"})

	ev := <-ch
	assert.Equal(t, KindCompleted, ev.Kind)
	assert.Equal(t, "final", ev.Message)
}

func TestBus_NonEssentialEventDroppedOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Publish(Event{Kind: KindBudgetUpdate, Message: "first"})
	b.Publish(Event{Kind: KindBudgetUpdate, Message: "second"})

	ev := <-ch
	assert.Equal(t, "first", ev.Message)
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(2)
	ch2, unsub2 := b.Subscribe(2)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Kind: KindFailed})

	require.Len(t, b.subscribers, 2)
	<-ch1
	<-ch2
}
