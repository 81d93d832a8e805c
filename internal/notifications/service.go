// Package notifications fans escalation messages out to the configured
// providers.
package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/notifications/providers"
)

// Service delivers messages through every available provider. Delivery is
// best effort per provider; one failing channel does not block the rest.
type Service struct {
	providers map[string]providers.Provider
	config    map[string]interface{}
	logger    *logger.Logger
}

func NewService(log *logger.Logger, config map[string]interface{}) *Service {
	return &Service{
		providers: make(map[string]providers.Provider),
		config:    config,
		logger:    log.WithFields(zap.String("component", "notifications")),
	}
}

// Register adds a named provider.
func (s *Service) Register(name string, provider providers.Provider) {
	s.providers[name] = provider
}

// Send pushes the message through every available provider and returns an
// error only when no provider succeeded.
func (s *Service) Send(ctx context.Context, message providers.Message) error {
	if message.Config == nil {
		message.Config = s.config
	}

	sent := 0
	attempted := 0
	for name, provider := range s.providers {
		if !provider.Available() {
			continue
		}
		attempted++
		if err := provider.Send(ctx, message); err != nil {
			s.logger.Warn("notification provider failed",
				zap.String("provider", name),
				zap.String("event_type", message.EventType),
				zap.Error(err))
			continue
		}
		sent++
	}

	if attempted > 0 && sent == 0 {
		return fmt.Errorf("all notification providers failed for event %s", message.EventType)
	}
	if attempted == 0 {
		s.logger.Debug("no notification providers available",
			zap.String("event_type", message.EventType))
	}
	return nil
}
