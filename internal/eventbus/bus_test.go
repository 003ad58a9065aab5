package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeTargetUpdated, Data: "t1"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			require.Equal(t, TypeTargetUpdated, e.Type)
			require.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Second publish must not block even though the buffer is full.
	b.Publish(Event{Type: TypeIncidentOpened})
	b.Publish(Event{Type: TypeIncidentResolved})

	e := <-ch
	require.Equal(t, TypeIncidentOpened, e.Type)
	require.Equal(t, uint64(1), b.Dropped())
	select {
	case <-ch:
		t.Fatal("expected second event to be dropped")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: TypeTargetRemoved})
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, TypeIncidentOpened, TypeIncidentResolved)
	defer unsub()

	b.Publish(Event{Type: TypeTargetUpdated})
	b.Publish(Event{Type: TypeIncidentResolved})

	e := <-ch
	require.Equal(t, TypeIncidentResolved, e.Type)
	require.Zero(t, b.Dropped())
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unsub := b.Subscribe(1)
			for j := 0; j < 50; j++ {
				b.Publish(Event{Type: TypeTargetUpdated})
			}
			unsub()
		}()
	}
	wg.Wait()
}

func TestPublic(t *testing.T) {
	require.True(t, Public(TypeIncidentOpened))
	require.False(t, Public(TypeNotificationSent))
}
