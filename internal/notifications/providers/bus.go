package providers

import (
	"context"

	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
)

// BusProvider publishes notifications onto the event bus so other
// components (dashboards, bridges) can react to them.
type BusProvider struct {
	eventBus bus.EventBus
}

func NewBusProvider(eventBus bus.EventBus) *BusProvider {
	return &BusProvider{eventBus: eventBus}
}

func (p *BusProvider) Available() bool {
	return p.eventBus != nil && p.eventBus.IsConnected()
}

func (p *BusProvider) Validate(map[string]interface{}) error { return nil }

func (p *BusProvider) Send(ctx context.Context, message Message) error {
	event := bus.NewEvent(events.NotificationSent, "notifications", map[string]interface{}{
		"event_type": message.EventType,
		"title":      message.Title,
		"body":       message.Body,
		"session_id": message.SessionID,
		"task_id":    message.TaskID,
	})
	return p.eventBus.Publish(ctx, events.NotificationSent, event)
}
