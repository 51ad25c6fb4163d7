package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionCreated, Data: "s1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != SessionCreated {
			t.Errorf("expected SessionCreated, got %v", received.Type)
		}
		if received.Data != "s1" {
			t.Errorf("expected 's1', got %v", received.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionCreated})
	bus.Publish(Event{Type: LockGranted})
	bus.Publish(Event{Type: MergeCompleted})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if atomic.LoadInt32(&count) != 3 {
			t.Errorf("expected 3 events, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for events")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	var count int32
	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionCreated})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 event before unsub, got %d", count)
	}

	unsub()

	bus.PublishSync(Event{Type: SessionCreated})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected still 1 event after unsub, got %d", count)
	}
}

func TestBus_EventTypeFiltering(t *testing.T) {
	bus := NewBus()

	var sessionCount, lockCount int32
	bus.Subscribe(SessionCreated, func(e Event) { atomic.AddInt32(&sessionCount, 1) })
	bus.Subscribe(LockGranted, func(e Event) { atomic.AddInt32(&lockCount, 1) })

	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: LockGranted})

	if atomic.LoadInt32(&sessionCount) != 2 {
		t.Errorf("expected 2 session events, got %d", sessionCount)
	}
	if atomic.LoadInt32(&lockCount) != 1 {
		t.Errorf("expected 1 lock event, got %d", lockCount)
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()

	// Publishing with zero direct subscribers and zero pubsub consumers
	// must not block or panic.
	bus.Publish(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: SessionCreated})
}

// TestBus_PubSubForwarding verifies that every Publish/PublishSync call is
// mirrored onto the watermill GoChannel topic named after its EventType, so
// an out-of-process-style consumer never misses an event a direct
// subscriber saw.
func TestBus_PubSubForwarding(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messages, err := bus.PubSub().Subscribe(ctx, string(MergeCompleted))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(Event{Type: MergeCompleted, Data: MergeCompletedData{SessionID: "sess-1", Success: true}})

	select {
	case msg := <-messages:
		var decoded Event
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("decode forwarded payload: %v", err)
		}
		if decoded.Type != MergeCompleted {
			t.Errorf("expected MergeCompleted, got %v", decoded.Type)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded message")
	}
}

func TestGlobalBus_Reset(t *testing.T) {
	var count int32
	Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	PublishSync(Event{Type: SessionCreated})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 event before reset, got %d", count)
	}

	Reset()

	PublishSync(Event{Type: SessionCreated})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected still 1 event after reset, got %d", count)
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(SessionCreated, func(e Event) {
				atomic.AddInt32(&count, 1)
			})
			defer unsub()

			for j := 0; j < 10; j++ {
				bus.Publish(Event{Type: SessionCreated})
			}
		}()
	}

	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&count) == 0 {
		t.Log("warning: no events received, but no panic occurred")
	}
}

// TestPublishHelpers_SetExpectedEventType exercises the typed per-component
// helpers against the global bus and confirms each stamps the EventType its
// name promises, so callers that migrate off raw Event{} literals keep the
// same wire shape.
func TestPublishHelpers_SetExpectedEventType(t *testing.T) {
	defer Reset()

	cases := []struct {
		name string
		fn   func()
		want EventType
	}{
		{"session abandoned", func() { PublishSessionAbandoned("s1", "timeout") }, SessionAbandoned},
		{"lock released", func() { PublishLockReleased("l1", "e1") }, LockReleased},
		{"memory policy changed", func() { PublishMemoryPolicyChanged("k1") }, MemoryPolicyChanged},
		{"agent registered", func() { PublishAgentRegistered(nil) }, AgentRegistered},
		{"search completed", func() { PublishSearchCompleted("a1", 2, 5, 10) }, SearchCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got EventType
			var wg sync.WaitGroup
			wg.Add(1)
			unsub := SubscribeAll(func(e Event) {
				got = e.Type
				wg.Done()
			})
			defer unsub()

			tc.fn()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				if got != tc.want {
					t.Errorf("expected %v, got %v", tc.want, got)
				}
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for published event")
			}
		})
	}
}
