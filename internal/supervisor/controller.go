// Package supervisor watches agent sessions, decides whether they finished
// their work, and either continues them, reassigns them, or escalates to a
// human.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
	"github.com/shepherd/shepherd/internal/notifications/providers"
	"github.com/shepherd/shepherd/internal/session"
	"github.com/shepherd/shepherd/internal/supervisor/classifier"
	"github.com/shepherd/shepherd/internal/supervisor/delivery"
	"github.com/shepherd/shepherd/internal/supervisor/evidence"
	"github.com/shepherd/shepherd/internal/task/models"
	"github.com/shepherd/shepherd/internal/task/store"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
)

// Phase is where a supervised session sits in the control loop.
type Phase string

const (
	PhaseIdleWatch  Phase = "idle_watch"
	PhaseEvaluating Phase = "evaluating"
	PhaseActing     Phase = "acting"
	// PhaseEscalated is terminal until an operator re-arms the session.
	// Idle signals and ticks are ignored while escalated so a broken
	// session cannot loop on notifications.
	PhaseEscalated Phase = "escalated"
)

// PromptDeliverer injects a prompt into a session and confirms acceptance.
type PromptDeliverer interface {
	Deliver(ctx context.Context, tr session.Transport, prompt string) (delivery.Attempt, error)
}

// Notifier pushes escalation messages to operators.
type Notifier interface {
	Send(ctx context.Context, message providers.Message) error
}

// Config tunes the controller.
type Config struct {
	// MaxIterationsDefault applies to tasks that carry no explicit
	// iteration budget.
	MaxIterationsDefault int
}

type sessionRecord struct {
	mu             sync.Mutex
	phase          Phase
	lastConclusion *classifier.Conclusion
}

// Controller runs the per-session watch/evaluate/act loop. Evaluations for
// the same session are serialized; different sessions proceed in parallel.
type Controller struct {
	registry  *session.Registry
	store     store.Store
	deliverer PromptDeliverer
	notifier  Notifier
	eventBus  bus.EventBus
	cfg       Config
	logger    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

func NewController(
	registry *session.Registry,
	taskStore store.Store,
	deliverer PromptDeliverer,
	notifier Notifier,
	eventBus bus.EventBus,
	cfg Config,
	log *logger.Logger,
) *Controller {
	if cfg.MaxIterationsDefault <= 0 {
		cfg.MaxIterationsDefault = 10
	}
	return &Controller{
		registry:  registry,
		store:     taskStore,
		deliverer: deliverer,
		notifier:  notifier,
		eventBus:  eventBus,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "supervisor")),
		sessions:  make(map[string]*sessionRecord),
	}
}

func (c *Controller) record(sessionID string) *sessionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sessions[sessionID]
	if !ok {
		rec = &sessionRecord{phase: PhaseIdleWatch}
		c.sessions[sessionID] = rec
	}
	return rec
}

// Phase returns the control-loop phase for a session.
func (c *Controller) Phase(sessionID string) Phase {
	rec := c.record(sessionID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.phase
}

// Conclusion returns the most recent conclusion for a session.
func (c *Controller) Conclusion(sessionID string) (classifier.Conclusion, bool) {
	rec := c.record(sessionID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastConclusion == nil {
		return classifier.Conclusion{}, false
	}
	return *rec.lastConclusion, true
}

// Rearm returns an escalated session to watching so supervision resumes.
func (c *Controller) Rearm(ctx context.Context, sessionID string) error {
	rec := c.record(sessionID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.phase != PhaseEscalated {
		return apperrors.Conflict(fmt.Sprintf("session %s is not escalated", sessionID))
	}
	rec.phase = PhaseIdleWatch
	c.logger.Info("session re-armed", zap.String("session_id", sessionID))
	c.publish(ctx, events.SupervisorRearmed, sessionID, map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// Evaluate runs one full observe/classify/act cycle for a session. A nil
// exitCode means the session process is still running. Escalated sessions
// are left untouched.
func (c *Controller) Evaluate(ctx context.Context, sessionID string, exitCode *int) (classifier.Conclusion, error) {
	rec := c.record(sessionID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.phase == PhaseEscalated {
		c.logger.Debug("ignoring evaluation for escalated session", zap.String("session_id", sessionID))
		if rec.lastConclusion != nil {
			return *rec.lastConclusion, nil
		}
		return classifier.Conclusion{}, nil
	}

	rec.phase = PhaseEvaluating
	log := c.logger.WithSessionID(sessionID)

	tr, err := c.registry.Get(sessionID)
	if err != nil {
		rec.phase = PhaseIdleWatch
		return classifier.Conclusion{}, err
	}

	raw, err := tr.ReadRecentOutput(ctx)
	if err != nil {
		rec.phase = PhaseIdleWatch
		return classifier.Conclusion{}, err
	}

	ev := evidence.Extract(raw)

	var task *models.Task
	var taskCtx *classifier.TaskContext
	if t, err := c.store.GetActiveTaskForSession(ctx, sessionID); err == nil {
		task = t
		max := t.MaxIterations
		if max <= 0 {
			max = c.cfg.MaxIterationsDefault
		}
		taskCtx = &classifier.TaskContext{
			TaskID:              t.ID,
			IterationsCompleted: t.IterationsCompleted,
			MaxIterations:       max,
		}
	} else if !apperrors.IsNotFound(err) {
		rec.phase = PhaseIdleWatch
		return classifier.Conclusion{}, err
	}

	conclusion := classifier.Classify(classifier.Observation{
		SessionID: sessionID,
		RawOutput: raw,
		ExitCode:  exitCode,
		Task:      taskCtx,
		Previous:  rec.lastConclusion,
	}, ev)
	rec.lastConclusion = &conclusion

	log.Info("session classified",
		zap.String("state", string(conclusion.State)),
		zap.Float64("confidence", conclusion.Confidence),
		zap.String("action", string(conclusion.Action)))
	c.publish(ctx, events.SupervisorConclusion, sessionID, map[string]interface{}{
		"session_id": sessionID,
		"conclusion": conclusion,
	})

	rec.phase = PhaseActing
	c.act(ctx, rec, sessionID, tr, task, conclusion, ev)
	return conclusion, nil
}

// act performs the recommended action. It may leave the session escalated;
// otherwise the session returns to watching.
func (c *Controller) act(ctx context.Context, rec *sessionRecord, sessionID string, tr session.Transport, task *models.Task, conclusion classifier.Conclusion, ev evidence.Set) {
	rec.phase = PhaseIdleWatch

	switch conclusion.Action {
	case classifier.ActionNoAction:

	case classifier.ActionNotifyOwner:
		c.escalate(ctx, rec, sessionID, task, conclusion, escalationBody(conclusion))

	case classifier.ActionInjectPrompt:
		c.continueSession(ctx, rec, sessionID, tr, task, conclusion, continuationPrompt(conclusion))

	case classifier.ActionRetryWithHints:
		c.continueSession(ctx, rec, sessionID, tr, task, conclusion, retryPrompt(conclusion, ev))

	case classifier.ActionAssignNextTask:
		c.advanceTask(ctx, rec, sessionID, tr, task, conclusion)
	}
}

// continueSession delivers a continuation prompt. A confirmed delivery
// counts as one iteration; any delivery failure escalates.
func (c *Controller) continueSession(ctx context.Context, rec *sessionRecord, sessionID string, tr session.Transport, task *models.Task, conclusion classifier.Conclusion, prompt string) {
	attempt, err := c.deliverer.Deliver(ctx, tr, prompt)
	if err != nil {
		c.publish(ctx, events.DeliveryFailed, sessionID, map[string]interface{}{
			"session_id": sessionID,
			"attempt":    attempt,
		})
		c.escalate(ctx, rec, sessionID, task, conclusion,
			fmt.Sprintf("continuation could not be delivered after %d submit attempt(s): %v", attempt.SubmitAttempts, err))
		return
	}

	c.publish(ctx, events.DeliveryConfirmed, sessionID, map[string]interface{}{
		"session_id": sessionID,
		"attempt":    attempt,
	})

	if task != nil {
		if _, err := c.store.IncrementIterations(ctx, task.ID); err != nil {
			c.logger.WithSessionID(sessionID).Warn("failed to bump iteration counter",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

// advanceTask closes out the finished task and hands the session the next
// queued one, if any.
func (c *Controller) advanceTask(ctx context.Context, rec *sessionRecord, sessionID string, tr session.Transport, task *models.Task, conclusion classifier.Conclusion) {
	log := c.logger.WithSessionID(sessionID)

	if task != nil {
		if err := c.store.CompleteTask(ctx, task.ID); err != nil {
			log.Error("failed to complete task", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		c.publish(ctx, events.TaskCompleted, sessionID, map[string]interface{}{
			"session_id": sessionID,
			"task_id":    task.ID,
		})
	}

	next, err := c.store.AssignNextQueued(ctx, sessionID)
	if err != nil {
		log.Error("failed to assign next task", zap.Error(err))
		return
	}
	if next == nil {
		// Queue drained. Tell the owner without escalating; an idle
		// session with no work is success, not a failure condition.
		log.Info("task queue empty, session left idle")
		c.notify(ctx, sessionID, task, "Task queue empty",
			fmt.Sprintf("Session %s completed its task and no queued tasks remain.", sessionID))
		return
	}

	c.publish(ctx, events.TaskAssigned, sessionID, map[string]interface{}{
		"session_id": sessionID,
		"task_id":    next.ID,
		"title":      next.Title,
	})

	attempt, err := c.deliverer.Deliver(ctx, tr, taskPrompt(next.Title, next.Prompt))
	if err != nil {
		c.publish(ctx, events.DeliveryFailed, sessionID, map[string]interface{}{
			"session_id": sessionID,
			"attempt":    attempt,
		})
		c.escalate(ctx, rec, sessionID, next, conclusion,
			fmt.Sprintf("new task %q could not be delivered: %v", next.Title, err))
		return
	}
	c.publish(ctx, events.DeliveryConfirmed, sessionID, map[string]interface{}{
		"session_id": sessionID,
		"attempt":    attempt,
	})
}

// escalate parks the session and notifies the owner.
func (c *Controller) escalate(ctx context.Context, rec *sessionRecord, sessionID string, task *models.Task, conclusion classifier.Conclusion, reason string) {
	rec.phase = PhaseEscalated
	log := c.logger.WithSessionID(sessionID)
	log.Warn("session escalated",
		zap.String("state", string(conclusion.State)),
		zap.String("reason", reason))

	if task != nil {
		if err := c.store.UpdateStatus(ctx, task.ID, models.StatusEscalated); err != nil {
			log.Warn("failed to mark task escalated", zap.String("task_id", task.ID), zap.Error(err))
		}
	}

	c.publish(ctx, events.SupervisorEscalated, sessionID, map[string]interface{}{
		"session_id": sessionID,
		"state":      string(conclusion.State),
		"reason":     reason,
		"evidence":   conclusion.Evidence,
	})
	c.notify(ctx, sessionID, task, fmt.Sprintf("Session %s needs attention", sessionID), reason)
}

func (c *Controller) notify(ctx context.Context, sessionID string, task *models.Task, title, body string) {
	if c.notifier == nil {
		return
	}
	msg := providers.Message{
		EventType: events.SupervisorEscalated,
		Title:     title,
		Body:      body,
		SessionID: sessionID,
	}
	if task != nil {
		msg.TaskID = task.ID
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.logger.WithSessionID(sessionID).Warn("failed to notify owner", zap.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, eventType, sessionID string, data map[string]interface{}) {
	if c.eventBus == nil {
		return
	}
	subject := events.BuildSessionSubject(eventType, sessionID)
	if err := c.eventBus.Publish(ctx, subject, bus.NewEvent(eventType, "supervisor", data)); err != nil {
		c.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func escalationBody(c classifier.Conclusion) string {
	switch c.State {
	case classifier.StateMaxIterations:
		return fmt.Sprintf("Iteration budget exhausted (%d/%d). The session will not be auto-continued.",
			c.IterationsCompleted, c.MaxIterations)
	case classifier.StateWaitingInput:
		return "The agent is waiting for human input."
	default:
		return fmt.Sprintf("Session classified as %s with confidence %.2f.", c.State, c.Confidence)
	}
}
