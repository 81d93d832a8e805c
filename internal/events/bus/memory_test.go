package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shepherd/shepherd/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("session.idle.abc", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("session.idle", "shepherd-test", map[string]interface{}{"session_id": "abc"})
	if err := bus.Publish(ctx, "session.idle.abc", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != event.ID {
			t.Errorf("received event ID %q, want %q", got.ID, event.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryEventBus_WildcardSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan string, 2)

	sub, err := bus.Subscribe("session.idle.*", func(ctx context.Context, event *Event) error {
		received <- event.Data["session_id"].(string)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for _, id := range []string{"s1", "s2"} {
		event := NewEvent("session.idle", "shepherd-test", map[string]interface{}{"session_id": id})
		if err := bus.Publish(ctx, "session.idle."+id, event); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-received:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard events")
		}
	}
	if !got["s1"] || !got["s2"] {
		t.Errorf("wildcard subscription missed sessions: %v", got)
	}

	// A wildcard must not match deeper subjects
	event := NewEvent("session.idle", "shepherd-test", nil)
	if err := bus.Publish(ctx, "session.idle.s1.extra", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case id := <-received:
		t.Errorf("unexpected delivery for deep subject: %v", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryEventBus_QueueSubscribe_SingleDelivery(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var delivered int64

	for i := 0; i < 3; i++ {
		_, err := bus.QueueSubscribe("supervisor.conclusion", "workers", func(ctx context.Context, event *Event) error {
			atomic.AddInt64(&delivered, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("QueueSubscribe failed: %v", err)
		}
	}

	event := NewEvent("supervisor.conclusion", "shepherd-test", nil)
	if err := bus.Publish(ctx, "supervisor.conclusion", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt64(&delivered); n != 1 {
		t.Errorf("queue group delivered %d times, want 1", n)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("delivery.failed", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("subscription should be invalid after Unsubscribe")
	}

	event := NewEvent("delivery.failed", "shepherd-test", nil)
	if err := bus.Publish(ctx, "delivery.failed", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
		t.Error("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()

	_, err := bus.Subscribe("task.next", func(ctx context.Context, event *Event) error {
		reply, _ := event.Data["_reply"].(string)
		response := NewEvent("task.next.reply", "shepherd-test", map[string]interface{}{"task_id": "t-1"})
		return bus.Publish(ctx, reply, response)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	request := NewEvent("task.next", "shepherd-test", map[string]interface{}{"session_id": "s1"})
	response, err := bus.Request(ctx, "task.next", request, time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if response.Data["task_id"] != "t-1" {
		t.Errorf("response task_id = %v, want t-1", response.Data["task_id"])
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	bus.Close()

	if bus.IsConnected() {
		t.Error("bus should not be connected after Close")
	}
	if err := bus.Publish(context.Background(), "session.idle", NewEvent("session.idle", "t", nil)); err == nil {
		t.Error("Publish after Close should fail")
	}
	if _, err := bus.Subscribe("session.idle", func(ctx context.Context, e *Event) error { return nil }); err == nil {
		t.Error("Subscribe after Close should fail")
	}
}
