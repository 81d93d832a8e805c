// Package tmux implements session.Transport on top of a tmux pane driven
// through the tmux CLI. Reads use capture-pane, writes use send-keys with
// the -l literal flag.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/common/logger"
)

const (
	// Chunk size for large pastes. tmux and the OS both impose buffer
	// limits on a single send-keys invocation.
	chunkSize  = 4096
	chunkDelay = 50 * time.Millisecond

	captureTimeout = 3 * time.Second
)

// commandRunner executes a tmux invocation and returns its stdout. It is a
// seam for tests; the default runs the real binary.
type commandRunner func(ctx context.Context, args ...string) ([]byte, error)

func execRunner(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "tmux", args...).Output()
}

// Config controls how the transport addresses tmux.
type Config struct {
	// Target is the tmux target pane (session name, or session:window.pane).
	Target string
	// SocketName selects a non-default tmux server via -L. Empty uses the
	// default socket.
	SocketName string
	// CaptureLines bounds how far back ReadRecentOutput reaches into
	// scrollback.
	CaptureLines int
}

// Transport drives one tmux pane.
type Transport struct {
	sessionID string
	cfg       Config
	run       commandRunner
	logger    *logger.Logger
}

// New creates a tmux transport for the given session. Target defaults to
// the session ID when unset.
func New(sessionID string, cfg Config, log *logger.Logger) *Transport {
	if cfg.Target == "" {
		cfg.Target = sessionID
	}
	if cfg.CaptureLines <= 0 {
		cfg.CaptureLines = 2000
	}
	return &Transport{
		sessionID: sessionID,
		cfg:       cfg,
		run:       execRunner,
		logger:    log.WithSessionID(sessionID),
	}
}

func (t *Transport) SessionID() string { return t.sessionID }

// Target returns the tmux pane target this transport talks to.
func (t *Transport) Target() string { return t.cfg.Target }

// baseArgs returns the socket selector prefix, if any.
func (t *Transport) baseArgs() []string {
	if t.cfg.SocketName == "" {
		return nil
	}
	return []string{"-L", t.cfg.SocketName}
}

// ReadRecentOutput captures the pane including bounded scrollback. The -J
// flag joins wrapped lines so long agent output lines survive narrow panes.
func (t *Transport) ReadRecentOutput(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	args := append(t.baseArgs(),
		"capture-pane", "-t", t.cfg.Target, "-p", "-J",
		"-S", fmt.Sprintf("-%d", t.cfg.CaptureLines))
	out, err := t.run(ctx, args...)
	if err != nil {
		return "", apperrors.TransportError(t.sessionID, fmt.Errorf("capture-pane: %w", err))
	}
	return string(out), nil
}

// ScreenContent captures only the visible pane content.
func (t *Transport) ScreenContent(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	args := append(t.baseArgs(), "capture-pane", "-t", t.cfg.Target, "-p", "-J")
	out, err := t.run(ctx, args...)
	if err != nil {
		return "", apperrors.TransportError(t.sessionID, fmt.Errorf("capture-pane: %w", err))
	}
	return string(out), nil
}

// Write pastes literal text into the pane without submitting it. The -l
// flag stops tmux from interpreting key names, and -- guards against text
// starting with a dash. Large payloads are chunked at line boundaries.
func (t *Transport) Write(ctx context.Context, data string) error {
	for i, chunk := range splitChunks(data, chunkSize) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return apperrors.TransportError(t.sessionID, ctx.Err())
			case <-time.After(chunkDelay):
			}
		}
		args := append(t.baseArgs(), "send-keys", "-l", "-t", t.cfg.Target, "--", chunk)
		if _, err := t.run(ctx, args...); err != nil {
			return apperrors.TransportError(t.sessionID, fmt.Errorf("send-keys: %w", err))
		}
	}
	return nil
}

// WriteSubmit sends a bare Enter. Kept separate from Write so callers can
// let the pane settle after a bracketed paste before submitting.
func (t *Transport) WriteSubmit(ctx context.Context) error {
	args := append(t.baseArgs(), "send-keys", "-t", t.cfg.Target, "Enter")
	if _, err := t.run(ctx, args...); err != nil {
		return apperrors.TransportError(t.sessionID, fmt.Errorf("send-keys Enter: %w", err))
	}
	return nil
}

// Alive reports whether the target session exists on the tmux server.
func (t *Transport) Alive(ctx context.Context) bool {
	args := append(t.baseArgs(), "has-session", "-t", t.cfg.Target)
	_, err := t.run(ctx, args...)
	return err == nil
}

func (t *Transport) Close() error { return nil }

// splitChunks splits data into chunks of at most max bytes, preferring
// newline boundaries so a chunk break never lands mid-line.
func splitChunks(data string, max int) []string {
	if len(data) <= max {
		return []string{data}
	}
	var chunks []string
	for len(data) > max {
		cut := strings.LastIndexByte(data[:max], '\n')
		if cut <= 0 {
			cut = max
		} else {
			cut++ // keep the newline with the leading chunk
		}
		chunks = append(chunks, data[:cut])
		data = data[cut:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}
