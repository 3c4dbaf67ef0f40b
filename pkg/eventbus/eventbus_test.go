package eventbus

import (
	"context"
	"testing"
	"time"
)

type testEvent struct {
	ID int
}

func TestEventBus_BasicPubSub(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	if delivered := bus.Publish(testEvent{ID: 42}); delivered != 1 {
		t.Fatalf("Expected 1 delivery, got %d", delivered)
	}

	select {
	case ev := <-ch:
		if ev.ID != 42 {
			t.Errorf("Expected event 42, got %d", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Event not delivered")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx := context.Background()
	ch1, cleanup1 := bus.Subscribe(ctx)
	defer cleanup1()
	ch2, cleanup2 := bus.Subscribe(ctx)
	defer cleanup2()

	if delivered := bus.Publish(testEvent{ID: 1}); delivered != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", delivered)
	}

	for _, ch := range []<-chan testEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.ID != 1 {
				t.Errorf("Expected event 1, got %d", ev.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("Event not delivered to all subscribers")
		}
	}
}

func TestEventBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewWithBuffer[testEvent](1)
	defer bus.Shutdown()

	_, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	if delivered := bus.Publish(testEvent{ID: 1}); delivered != 1 {
		t.Fatalf("Expected first publish delivered, got %d", delivered)
	}
	// Buffer full, nobody reading: the publish must not block.
	if delivered := bus.Publish(testEvent{ID: 2}); delivered != 0 {
		t.Errorf("Expected second publish dropped, got %d deliveries", delivered)
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ch, cleanup := bus.Subscribe(context.Background())
	cleanup()

	select {
	case _, open := <-ch:
		if open {
			t.Error("Expected closed channel after cleanup")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel not closed")
	}

	if delivered := bus.Publish(testEvent{ID: 1}); delivered != 0 {
		t.Errorf("Expected no delivery after unsubscribe, got %d", delivered)
	}
}

func TestEventBus_ShutdownStopsPublishing(t *testing.T) {
	bus := New[testEvent]()
	ch, _ := bus.Subscribe(context.Background())

	bus.Shutdown()

	if delivered := bus.Publish(testEvent{ID: 1}); delivered != 0 {
		t.Errorf("Expected no deliveries after shutdown, got %d", delivered)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("Expected subscriber channel closed on shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel not closed on shutdown")
	}
}

func TestEventBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("Channel not closed after context cancellation")
		}
	}
}
