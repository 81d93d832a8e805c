// Package providers contains notification delivery backends.
package providers

import (
	"context"
)

// Message is one notification to an operator.
type Message struct {
	EventType string
	Title     string
	Body      string
	SessionID string
	TaskID    string
	Config    map[string]interface{}
}

// Provider delivers messages through one channel.
type Provider interface {
	Available() bool
	Validate(config map[string]interface{}) error
	Send(ctx context.Context, message Message) error
}
