package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe_Wildcard(t *testing.T) {
	b := NewBus(100, time.Minute)
	ch, tok := b.Subscribe(10)
	defer b.Unsubscribe(tok)

	b.Emit("turn.completed", "comp-1", map[string]interface{}{"agent": "a1"})

	select {
	case ev := <-ch:
		assert.Equal(t, "turn.completed", ev.Type)
		assert.Equal(t, "comp-1", ev.CompetitionID)
	case <-time.After(time.Second):
		t.Fatal("expected event not received")
	}
}

func TestBus_Subscribe_TypeFilter(t *testing.T) {
	b := NewBus(100, time.Minute)
	ch, tok := b.Subscribe(10, "market.resolved")
	defer b.Unsubscribe(tok)

	b.Emit("turn.completed", "comp-1", nil)
	b.Emit("market.resolved", "comp-1", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, "market.resolved", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected filtered event not received")
	}

	select {
	case ev := <-ch:
		t.Fatalf("did not expect a second event, got %v", ev)
	default:
	}
}

func TestBus_Publish_NonBlockingOnFullSubscriber(t *testing.T) {
	b := NewBus(100, time.Minute)
	ch, tok := b.Subscribe(1)
	defer b.Unsubscribe(tok)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit("spam", "comp-1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	<-ch // drain the one buffered event
	assert.GreaterOrEqual(t, b.DroppedCount(), int64(1))
}

func TestBus_History_FiltersByCompetitionAndType(t *testing.T) {
	b := NewBus(10, time.Minute)

	b.Emit("turn.completed", "comp-1", map[string]interface{}{"n": 1})
	b.Emit("turn.completed", "comp-2", map[string]interface{}{"n": 2})
	b.Emit("market.resolved", "comp-1", map[string]interface{}{"n": 3})

	hist := b.History(HistoryFilter{CompetitionID: "comp-1"})
	require.Len(t, hist, 2)

	hist = b.History(HistoryFilter{CompetitionID: "comp-1", Type: "market.resolved"})
	require.Len(t, hist, 1)
	assert.Equal(t, "market.resolved", hist[0].Type)
}

func TestBus_History_RingEviction(t *testing.T) {
	b := NewBus(3, time.Minute)

	for i := 0; i < 5; i++ {
		b.Emit("turn.completed", "comp-1", map[string]interface{}{"n": i})
	}

	hist := b.History(HistoryFilter{CompetitionID: "comp-1"})
	require.Len(t, hist, 3)
	assert.Equal(t, 2, hist[0].Data["n"])
	assert.Equal(t, 4, hist[2].Data["n"])
}

func TestBus_History_AgeEviction(t *testing.T) {
	b := NewBus(100, 10*time.Millisecond)

	b.Emit("turn.completed", "comp-1", nil)
	time.Sleep(30 * time.Millisecond)
	b.Emit("turn.completed", "comp-1", nil)

	hist := b.History(HistoryFilter{CompetitionID: "comp-1"})
	require.Len(t, hist, 1)
}

func TestBus_Unsubscribe_ClosesChannel(t *testing.T) {
	b := NewBus(10, time.Minute)
	ch, tok := b.Subscribe(1)
	b.Unsubscribe(tok)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBus(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ch, tok := b.Subscribe(50)
			defer b.Unsubscribe(tok)
			for j := 0; j < 10; j++ {
				select {
				case <-ch:
				case <-time.After(50 * time.Millisecond):
				}
			}
		}(i)
	}

	for i := 0; i < 100; i++ {
		b.Emit("turn.completed", "comp-1", nil)
	}

	wg.Wait()
}
