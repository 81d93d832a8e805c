package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
)

// queueGroup load-balances idle/exit handling when several supervisor
// instances share one bus.
const queueGroup = "supervisor"

// Service wires the controller to the event bus: session idle and exit
// events trigger evaluations.
type Service struct {
	controller *Controller
	eventBus   bus.EventBus
	logger     *logger.Logger
	subs       []bus.Subscription
}

func NewService(controller *Controller, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		controller: controller,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "supervisor-watcher")),
	}
}

// Start subscribes to session lifecycle subjects. Handlers run until Stop.
func (s *Service) Start(ctx context.Context) error {
	idleSub, err := s.eventBus.QueueSubscribe(
		events.BuildSessionWildcardSubject(events.SessionIdle), queueGroup, s.handleIdle)
	if err != nil {
		return fmt.Errorf("subscribe to idle events: %w", err)
	}
	s.subs = append(s.subs, idleSub)

	exitSub, err := s.eventBus.QueueSubscribe(
		events.BuildSessionWildcardSubject(events.SessionExited), queueGroup, s.handleExited)
	if err != nil {
		return fmt.Errorf("subscribe to exit events: %w", err)
	}
	s.subs = append(s.subs, exitSub)

	s.logger.Info("supervisor watcher started")
	return nil
}

// Stop drops the bus subscriptions.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	s.subs = nil
}

func (s *Service) handleIdle(ctx context.Context, event *bus.Event) error {
	sessionID, ok := eventSessionID(event)
	if !ok {
		s.logger.Warn("idle event without session_id", zap.String("event_id", event.ID))
		return nil
	}
	if _, err := s.controller.Evaluate(ctx, sessionID, nil); err != nil {
		s.logger.WithSessionID(sessionID).Error("idle evaluation failed", zap.Error(err))
	}
	return nil
}

func (s *Service) handleExited(ctx context.Context, event *bus.Event) error {
	sessionID, ok := eventSessionID(event)
	if !ok {
		s.logger.Warn("exit event without session_id", zap.String("event_id", event.ID))
		return nil
	}

	exitCode := 0
	if raw, ok := event.Data["exit_code"]; ok {
		switch v := raw.(type) {
		case int:
			exitCode = v
		case float64:
			// JSON round-trips numbers as float64.
			exitCode = int(v)
		}
	}

	if _, err := s.controller.Evaluate(ctx, sessionID, &exitCode); err != nil {
		s.logger.WithSessionID(sessionID).Error("exit evaluation failed", zap.Error(err))
	}
	return nil
}

func eventSessionID(event *bus.Event) (string, bool) {
	raw, ok := event.Data["session_id"]
	if !ok {
		return "", false
	}
	id, ok := raw.(string)
	return id, ok && id != ""
}
