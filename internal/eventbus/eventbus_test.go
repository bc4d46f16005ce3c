package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type heartbeat struct{ serial string }

type reading struct{ serial string }

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Publish(heartbeat{serial: "SD-1"})
	assert.Equal(t, heartbeat{serial: "SD-1"}, <-ch)
	bus.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFilteredSubscription(t *testing.T) {
	bus := New()
	all := bus.Subscribe()
	hb := bus.Subscribe(OfType[heartbeat]())
	sd2 := bus.Subscribe(OfType[reading](), func(e Event) bool { return e.(reading).serial == "SD-2" })

	bus.Publish(reading{serial: "SD-1"})
	bus.Publish(heartbeat{serial: "SD-1"})
	bus.Publish(reading{serial: "SD-2"})
	bus.Close()

	var got []Event
	for e := range all {
		got = append(got, e)
	}
	assert.Len(t, got, 3)

	var beats []Event
	for e := range hb {
		beats = append(beats, e)
	}
	assert.Equal(t, []Event{heartbeat{serial: "SD-1"}}, beats)

	var readings []Event
	for e := range sd2 {
		readings = append(readings, e)
	}
	assert.Equal(t, []Event{reading{serial: "SD-2"}}, readings)
}

func TestNilFilterAcceptsAll(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(nil)
	bus.Publish(1)
	assert.Equal(t, 1, <-ch)
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)
	require.NotPanics(t, func() {
		bus.Publish("ignored")
		bus.Unsubscribe(ch1)
		bus.Close()
	})
}

func TestDropsWhenFull(t *testing.T) {
	bus := NewWithBuffer(1)
	ch := bus.Subscribe()
	bus.Publish(1)
	bus.Publish(2)
	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, 1, <-ch)
}

func TestFilteredOutIsNotDropped(t *testing.T) {
	bus := NewWithBuffer(1)
	_ = bus.Subscribe(OfType[heartbeat]())
	bus.Publish(reading{})
	bus.Publish(reading{})
	assert.Zero(t, bus.Dropped())
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := New()
	bus.Close()
	_, ok := <-bus.Subscribe()
	assert.False(t, ok)
}
