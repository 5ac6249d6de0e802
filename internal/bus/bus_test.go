package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	b.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })

	b.Broadcast(Event{Name: EventCaptureStored})

	assert.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a:capture.stored", "b:capture.stored"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	n := 0
	b.Subscribe("a", func(Event) { n++ })
	b.Broadcast(Event{Name: EventCaptureAccepted})
	b.Unsubscribe("a")
	b.Broadcast(Event{Name: EventCaptureAccepted})

	assert.Equal(t, 1, n)
}

func TestBroadcastStampsTimestamp(t *testing.T) {
	b := New()
	var stamped bool
	b.Subscribe("a", func(e Event) { stamped = !e.Timestamp.IsZero() })

	b.Broadcast(Event{Name: EventCaptureFailed})

	assert.True(t, stamped)
}
