package supervisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
	"github.com/shepherd/shepherd/internal/notifications/providers"
	"github.com/shepherd/shepherd/internal/session"
	"github.com/shepherd/shepherd/internal/supervisor/classifier"
	"github.com/shepherd/shepherd/internal/supervisor/delivery"
	"github.com/shepherd/shepherd/internal/task/models"
	"github.com/shepherd/shepherd/internal/task/store"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

// fakeTransport serves canned output for evaluations.
type fakeTransport struct {
	id     string
	output string
}

func (f *fakeTransport) SessionID() string                                { return f.id }
func (f *fakeTransport) ReadRecentOutput(context.Context) (string, error) { return f.output, nil }
func (f *fakeTransport) ScreenContent(context.Context) (string, error)    { return f.output, nil }
func (f *fakeTransport) Write(context.Context, string) error              { return nil }
func (f *fakeTransport) WriteSubmit(context.Context) error                { return nil }
func (f *fakeTransport) Close() error                                     { return nil }

// fakeDeliverer records delivered prompts and can be made to fail.
type fakeDeliverer struct {
	mu      sync.Mutex
	prompts []string
	fail    bool
}

func (f *fakeDeliverer) Deliver(_ context.Context, tr session.Transport, prompt string) (delivery.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := delivery.Attempt{SessionID: tr.SessionID(), Prompt: prompt, SubmitAttempts: 1}
	if f.fail {
		attempt.Status = delivery.StatusFailed
		return attempt, apperrors.DeliveryTimeout(tr.SessionID(), 3)
	}
	f.prompts = append(f.prompts, prompt)
	attempt.Status = delivery.StatusConfirmed
	return attempt, nil
}

func (f *fakeDeliverer) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []providers.Message
}

func (f *fakeNotifier) Send(_ context.Context, m providers.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeNotifier) sent() []providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.Message(nil), f.messages...)
}

type fixture struct {
	controller *Controller
	registry   *session.Registry
	store      store.Store
	deliverer  *fakeDeliverer
	notifier   *fakeNotifier
	bus        *bus.MemoryEventBus
	transport  *fakeTransport
}

func newFixture(t *testing.T, output string) *fixture {
	t.Helper()
	log := newTestLogger(t)
	registry := session.NewRegistry()
	tr := &fakeTransport{id: "sess-1", output: output}
	registry.Register(tr)

	f := &fixture{
		registry:  registry,
		store:     store.NewMemoryStore(),
		deliverer: &fakeDeliverer{},
		notifier:  &fakeNotifier{},
		bus:       bus.NewMemoryEventBus(log),
		transport: tr,
	}
	f.controller = NewController(f.registry, f.store, f.deliverer, f.notifier, f.bus,
		Config{MaxIterationsDefault: 10}, log)
	return f
}

func (f *fixture) addTask(t *testing.T, task *models.Task) *models.Task {
	t.Helper()
	require.NoError(t, f.store.CreateTask(context.Background(), task))
	return task
}

func TestEvaluate_IdleSessionGetsContinuation(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")
	task := f.addTask(t, &models.Task{Title: "t", SessionID: "sess-1", Status: models.StatusInProgress, MaxIterations: 5})

	conclusion, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, classifier.StateIncomplete, conclusion.State)
	prompts := f.deliverer.delivered()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Continue working")

	// A confirmed continuation counts as one iteration.
	got, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.IterationsCompleted)
	assert.Equal(t, PhaseIdleWatch, f.controller.Phase("sess-1"))
}

func TestEvaluate_ErrorGetsRetryWithHints(t *testing.T) {
	f := newFixture(t, "error TS2304: cannot find name 'foo'\n$ ")
	f.addTask(t, &models.Task{Title: "t", SessionID: "sess-1", Status: models.StatusInProgress})

	conclusion, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, classifier.StateStuckOrError, conclusion.State)
	prompts := f.deliverer.delivered()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "compile")
	assert.Contains(t, prompts[0], "TS2304")
}

func TestEvaluate_FailedDeliveryEscalates(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")
	f.deliverer.fail = true
	task := f.addTask(t, &models.Task{Title: "t", SessionID: "sess-1", Status: models.StatusInProgress})

	_, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, PhaseEscalated, f.controller.Phase("sess-1"))
	require.NotEmpty(t, f.notifier.sent())

	got, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, got.Status)
}

func TestEvaluate_EscalatedSessionIgnoresTicks(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")
	f.deliverer.fail = true
	f.addTask(t, &models.Task{Title: "t", SessionID: "sess-1", Status: models.StatusInProgress})

	_, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Equal(t, PhaseEscalated, f.controller.Phase("sess-1"))

	notified := len(f.notifier.sent())
	_, err = f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, notified, len(f.notifier.sent()), "escalated session must not act again")
}

func TestRearm_ResumesSupervision(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")
	f.deliverer.fail = true
	f.addTask(t, &models.Task{Title: "t", SessionID: "sess-1", Status: models.StatusInProgress})

	_, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Equal(t, PhaseEscalated, f.controller.Phase("sess-1"))

	require.NoError(t, f.controller.Rearm(context.Background(), "sess-1"))
	assert.Equal(t, PhaseIdleWatch, f.controller.Phase("sess-1"))

	f.deliverer.fail = false
	_, err = f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, f.deliverer.delivered())
}

func TestRearm_RequiresEscalatedSession(t *testing.T) {
	f := newFixture(t, "$ ")
	err := f.controller.Rearm(context.Background(), "sess-1")
	assert.Error(t, err)
}

func TestEvaluate_CompletionAdvancesToNextTask(t *testing.T) {
	f := newFixture(t, "All tests passed\nBuild succeeded\n[main abc1234] done\n$ ")
	current := f.addTask(t, &models.Task{Title: "current", SessionID: "sess-1", Status: models.StatusInProgress})
	f.addTask(t, &models.Task{Title: "next up", Prompt: "do the next thing"})

	conclusion, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, classifier.StateTaskComplete, conclusion.State)

	got, err := f.store.GetTask(context.Background(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)

	prompts := f.deliverer.delivered()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "next up")
	assert.Contains(t, prompts[0], "do the next thing")

	next, err := f.store.GetActiveTaskForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "next up", next.Title)
}

func TestEvaluate_EmptyQueueNotifiesWithoutEscalating(t *testing.T) {
	f := newFixture(t, "Task complete\n$ ")
	f.addTask(t, &models.Task{Title: "only", SessionID: "sess-1", Status: models.StatusInProgress})

	_, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, PhaseIdleWatch, f.controller.Phase("sess-1"))
	require.NotEmpty(t, f.notifier.sent())
	assert.Contains(t, f.notifier.sent()[0].Title, "queue empty")
	assert.Empty(t, f.deliverer.delivered())
}

func TestEvaluate_MaxIterationsEscalates(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")
	f.addTask(t, &models.Task{
		Title: "t", SessionID: "sess-1", Status: models.StatusInProgress,
		IterationsCompleted: 3, MaxIterations: 3,
	})

	conclusion, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, classifier.StateMaxIterations, conclusion.State)
	assert.Equal(t, PhaseEscalated, f.controller.Phase("sess-1"))
	assert.Empty(t, f.deliverer.delivered())

	msgs := f.notifier.sent()
	require.NotEmpty(t, msgs)
	assert.True(t, strings.Contains(msgs[0].Body, "budget"), "body: %s", msgs[0].Body)
}

func TestEvaluate_NoTaskStillContinuesSession(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")

	conclusion, err := f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, classifier.StateIncomplete, conclusion.State)
	assert.Len(t, f.deliverer.delivered(), 1)
}

func TestEvaluate_UnknownSessionFails(t *testing.T) {
	f := newFixture(t, "$ ")
	_, err := f.controller.Evaluate(context.Background(), "missing", nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEvaluate_PublishesConclusionEvent(t *testing.T) {
	f := newFixture(t, "did some work\n$ ")

	received := make(chan *bus.Event, 1)
	_, err := f.bus.Subscribe(events.BuildSessionWildcardSubject(events.SupervisorConclusion),
		func(_ context.Context, e *bus.Event) error {
			select {
			case received <- e:
			default:
			}
			return nil
		})
	require.NoError(t, err)

	_, err = f.controller.Evaluate(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, events.SupervisorConclusion, e.Type)
		assert.Equal(t, "sess-1", e.Data["session_id"])
	case <-time.After(time.Second):
		t.Fatal("no conclusion event published")
	}
}
