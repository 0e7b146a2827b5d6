package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	ch1, stop1 := b.Subscribe(4)
	ch2, stop2 := b.Subscribe(4)
	defer stop1()
	defer stop2()

	b.Publish(Event{Type: EventLog, DeploymentID: "d1", Message: "hello"})

	e1 := <-ch1
	e2 := <-ch2
	assert.Equal(t, "hello", e1.Message)
	assert.Equal(t, "hello", e2.Message)
	assert.False(t, e1.Time.IsZero(), "publish stamps a missing time")
}

func TestBroadcasterDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroadcaster()

	ch, stop := b.Subscribe(1)
	defer stop()

	// The second publish must not block even though nobody is reading.
	b.Publish(Event{Type: EventLog, Message: "kept"})
	b.Publish(Event{Type: EventLog, Message: "dropped"})

	got := <-ch
	assert.Equal(t, "kept", got.Message)

	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Message)
	default:
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()

	ch, stop := b.Subscribe(1)
	stop()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: EventLog, Message: "late"})

	// Unsubscribing twice is safe.
	stop()
}
