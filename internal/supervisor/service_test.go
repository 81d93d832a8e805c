package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestService_IdleEventTriggersEvaluation(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")
	svc := NewService(f.controller, f.bus, newTestLogger(t))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	event := bus.NewEvent(events.SessionIdle, "session", map[string]interface{}{
		"session_id": "sess-1",
	})
	require.NoError(t, f.bus.Publish(context.Background(),
		events.BuildSessionSubject(events.SessionIdle, "sess-1"), event))

	waitFor(t, func() bool { return len(f.deliverer.delivered()) == 1 })
}

func TestService_ExitEventCarriesExitCode(t *testing.T) {
	// Uninformative output forces classification down to the exit-code
	// rule, so the conclusion proves the code was parsed.
	f := newFixture(t, "some uninformative text\ncontinuing")
	svc := NewService(f.controller, f.bus, newTestLogger(t))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	event := bus.NewEvent(events.SessionExited, "session", map[string]interface{}{
		"session_id": "sess-1",
		"exit_code":  float64(2),
	})
	require.NoError(t, f.bus.Publish(context.Background(),
		events.BuildSessionSubject(events.SessionExited, "sess-1"), event))

	waitFor(t, func() bool {
		c, ok := f.controller.Conclusion("sess-1")
		return ok && c.State != ""
	})
	c, _ := f.controller.Conclusion("sess-1")
	assert.Contains(t, c.Evidence[0], "exited with code 2")
}

func TestService_IgnoresMalformedEvents(t *testing.T) {
	f := newFixture(t, "$ ")
	svc := NewService(f.controller, f.bus, newTestLogger(t))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	event := bus.NewEvent(events.SessionIdle, "session", map[string]interface{}{})
	require.NoError(t, f.bus.Publish(context.Background(), "session.idle.whatever", event))

	// Give the handler a moment; nothing should have been delivered.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.deliverer.delivered())
}
