package eventbus

import (
	"sync"
	"testing"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	b := New()
	items, unsubItems := b.Subscribe(4, "item.")
	defer unsubItems()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "batch.queued"})
	b.Publish(Event{Type: "item.finished", Data: 7})

	got := <-items
	if got.Type != "item.finished" || got.Data.(int) != 7 {
		t.Fatalf("items got %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("publish did not stamp time")
	}
	select {
	case e := <-items:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
	if e := <-all; e.Type != "batch.queued" {
		t.Fatalf("all first = %q", e.Type)
	}
	if e := <-all; e.Type != "item.finished" {
		t.Fatalf("all second = %q", e.Type)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	b.Publish(Event{Type: "after"})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, unsub := b.Subscribe(1)
				b.Publish(Event{Type: "x"})
				unsub()
			}
		}()
	}
	wg.Wait()
}
