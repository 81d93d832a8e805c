// Package delivery pushes a continuation prompt into an agent session and
// confirms the agent actually accepted it.
//
// Paste and submit are separate transport operations with a settle interval
// between them: multiplexers wrap pastes in bracketed-paste markers, and an
// Enter arriving in the same buffer as the paste-end marker gets swallowed
// by async TUI frameworks. Confirmation is by advancement: the screen after
// submit must differ from the post-paste baseline, because the pasted text
// echoing back proves nothing about submission.
package delivery

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/session"
)

// Status is the lifecycle state of one delivery attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPasted    Status = "pasted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Attempt records one full delivery, including how many submits it took.
type Attempt struct {
	SessionID      string    `json:"session_id"`
	Prompt         string    `json:"prompt"`
	Status         Status    `json:"status"`
	SubmitAttempts int       `json:"submit_attempts"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Error          string    `json:"error,omitempty"`
}

// Config tunes the delivery timing knobs.
type Config struct {
	// SettleInterval is the pause between paste and first submit.
	SettleInterval time.Duration
	// ConfirmationWindow bounds how long one submit may wait for the
	// screen to advance.
	ConfirmationWindow time.Duration
	// MaxAttempts bounds submit retries. The paste is never repeated;
	// only the Enter is resent.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.SettleInterval <= 0 {
		c.SettleInterval = 200 * time.Millisecond
	}
	if c.ConfirmationWindow <= 0 {
		c.ConfirmationWindow = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	return c
}

// Deliverer runs delivery attempts against session transports.
type Deliverer struct {
	cfg    Config
	logger *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Deliverer {
	return &Deliverer{cfg: cfg.withDefaults(), logger: log}
}

// Deliver pastes prompt into the session, submits it, and waits for the
// screen to advance past the post-paste baseline. On success the returned
// attempt is confirmed. On transport failure or confirmation timeout the
// attempt is failed and a non-nil error is returned; the caller decides
// whether to escalate.
func (d *Deliverer) Deliver(ctx context.Context, tr session.Transport, prompt string) (Attempt, error) {
	log := d.logger.WithSessionID(tr.SessionID())
	attempt := Attempt{
		SessionID: tr.SessionID(),
		Prompt:    prompt,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	if err := tr.Write(ctx, prompt); err != nil {
		return d.fail(attempt, err)
	}

	// Let the target's paste handling finish before baselining, so the
	// echoed prompt is part of the baseline rather than fake advancement.
	if err := wait(ctx, d.cfg.SettleInterval); err != nil {
		return d.fail(attempt, apperrors.TransportError(attempt.SessionID, err))
	}

	baselineRaw, err := tr.ScreenContent(ctx)
	if err != nil {
		return d.fail(attempt, err)
	}
	baseline := normalize(baselineRaw)
	attempt.Status = StatusPasted

	for i := 0; i < d.cfg.MaxAttempts; i++ {
		if i > 0 {
			backoff := d.cfg.BackoffBase << (i - 1)
			log.Debug("resending submit",
				zap.Int("attempt", i+1),
				zap.Duration("backoff", backoff))
			if err := wait(ctx, backoff); err != nil {
				return d.fail(attempt, apperrors.TransportError(attempt.SessionID, err))
			}
		}

		attempt.SubmitAttempts++
		if err := tr.WriteSubmit(ctx); err != nil {
			return d.fail(attempt, err)
		}

		advanced, err := d.awaitAdvancement(ctx, tr, baseline)
		if err != nil {
			return d.fail(attempt, err)
		}
		if advanced {
			attempt.Status = StatusConfirmed
			attempt.CompletedAt = time.Now().UTC()
			log.Info("delivery confirmed", zap.Int("submit_attempts", attempt.SubmitAttempts))
			return attempt, nil
		}
	}

	return d.fail(attempt, apperrors.DeliveryTimeout(attempt.SessionID, attempt.SubmitAttempts))
}

// awaitAdvancement polls the screen for up to the confirmation window,
// returning true as soon as the normalized content differs from baseline.
func (d *Deliverer) awaitAdvancement(ctx context.Context, tr session.Transport, baseline string) (bool, error) {
	poll := d.cfg.ConfirmationWindow / 10
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}

	deadline := time.Now().Add(d.cfg.ConfirmationWindow)
	for {
		content, err := tr.ScreenContent(ctx)
		if err != nil {
			return false, err
		}
		if normalize(content) != baseline {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := wait(ctx, poll); err != nil {
			return false, apperrors.TransportError(tr.SessionID(), err)
		}
	}
}

func (d *Deliverer) fail(attempt Attempt, err error) (Attempt, error) {
	attempt.Status = StatusFailed
	attempt.CompletedAt = time.Now().UTC()
	attempt.Error = err.Error()
	d.logger.WithSessionID(attempt.SessionID).Warn("delivery failed",
		zap.Int("submit_attempts", attempt.SubmitAttempts),
		zap.Error(err))
	return attempt, err
}

var ansiPattern = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(\x07|\x1b\\)|[()#][0-9A-Za-z]|[a-zA-Z=>])`)

// normalize makes screen comparisons insensitive to cursor repaints:
// escape sequences are stripped and all whitespace runs collapse to a
// single space.
func normalize(content string) string {
	content = ansiPattern.ReplaceAllString(content, "")
	return strings.Join(strings.Fields(content), " ")
}

// wait sleeps for d or returns early with the context error.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
