// Package events provides event types and utilities for the Shepherd event system.
package events

import "fmt"

// Event types for sessions
const (
	SessionOutput = "session.output"
	SessionIdle   = "session.idle"
	SessionExited = "session.exited"
)

// Event types for the supervisor
const (
	SupervisorConclusion = "supervisor.conclusion"
	SupervisorEscalated  = "supervisor.escalated"
	SupervisorRearmed    = "supervisor.rearmed"
)

// Event types for deliveries
const (
	DeliveryConfirmed = "delivery.confirmed"
	DeliveryFailed    = "delivery.failed"
)

// Event types for tasks
const (
	TaskAssigned  = "task.assigned"
	TaskCompleted = "task.completed"
)

// Event types for notifications
const (
	NotificationSent = "notification.sent"
)

// BuildSessionSubject returns the per-session subject for a session event type,
// e.g. "session.idle.<session_id>".
func BuildSessionSubject(eventType, sessionID string) string {
	return fmt.Sprintf("%s.%s", eventType, sessionID)
}

// BuildSessionWildcardSubject returns the wildcard subject matching a session
// event type for every session.
func BuildSessionWildcardSubject(eventType string) string {
	return eventType + ".*"
}
