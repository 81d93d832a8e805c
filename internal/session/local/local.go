// Package local implements session.Transport for an agent CLI spawned
// in-process under a PTY. Output is mirrored into a vt10x virtual terminal
// for screen-content reads and into a bounded rolling window for recent
// output reads.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/common/logger"
)

// Config sizes the virtual terminal and the rolling output window.
type Config struct {
	Cols        int
	Rows        int
	WindowBytes int
}

// ExitCallback fires once when the underlying process exits.
type ExitCallback func(sessionID string, exitCode int)

// Transport owns a PTY-attached process for one session.
type Transport struct {
	sessionID string
	cfg       Config
	logger    *logger.Logger

	cmd     *exec.Cmd
	ptyFile *os.File

	termMu sync.Mutex
	term   vt10x.Terminal

	window *outputWindow
	onExit ExitCallback

	done      chan struct{}
	closeOnce sync.Once

	exitMu   sync.RWMutex
	exited   bool
	exitCode int
}

// Start spawns command under a PTY and begins mirroring its output. The
// transport owns the process; Close terminates it.
func Start(sessionID string, command []string, cfg Config, onExit ExitCallback, log *logger.Logger) (*Transport, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command for session %s", sessionID)
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cfg.Cols),
		Rows: uint16(cfg.Rows),
	})
	if err != nil {
		return nil, apperrors.TransportError(sessionID, fmt.Errorf("start pty: %w", err))
	}

	t := &Transport{
		sessionID: sessionID,
		cfg:       cfg,
		logger:    log.WithSessionID(sessionID),
		cmd:       cmd,
		ptyFile:   f,
		term:      vt10x.New(vt10x.WithSize(cfg.Cols, cfg.Rows)),
		window:    newOutputWindow(cfg.WindowBytes),
		onExit:    onExit,
		done:      make(chan struct{}),
	}

	go t.readLoop()
	return t, nil
}

func (t *Transport) SessionID() string { return t.sessionID }

// readLoop drains the PTY until EOF, feeding both the virtual terminal and
// the rolling window, then reaps the process.
func (t *Transport) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.ptyFile.Read(buf)
		if n > 0 {
			data := buf[:n]
			t.window.Append(data)
			t.termMu.Lock()
			_, _ = t.term.Write(data)
			t.termMu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("pty read ended", zap.Error(err))
			}
			break
		}
	}

	err := t.cmd.Wait()
	code := 0
	if err != nil {
		code = 1
		if t.cmd.ProcessState != nil {
			code = t.cmd.ProcessState.ExitCode()
		}
	}

	t.exitMu.Lock()
	t.exited = true
	t.exitCode = code
	t.exitMu.Unlock()
	close(t.done)

	t.logger.Info("session process exited", zap.Int("exit_code", code))
	if t.onExit != nil {
		t.onExit(t.sessionID, code)
	}
}

// ReadRecentOutput returns the rolling output window.
func (t *Transport) ReadRecentOutput(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.TransportError(t.sessionID, err)
	}
	return t.window.String(), nil
}

// ScreenContent renders the visible virtual terminal, trailing blank rows
// removed.
func (t *Transport) ScreenContent(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.TransportError(t.sessionID, err)
	}

	t.termMu.Lock()
	defer t.termMu.Unlock()

	lines := make([]string, 0, t.cfg.Rows)
	for row := 0; row < t.cfg.Rows; row++ {
		var sb strings.Builder
		for col := 0; col < t.cfg.Cols; col++ {
			g := t.term.Cell(col, row)
			if g.Char == 0 {
				sb.WriteRune(' ')
			} else {
				sb.WriteRune(g.Char)
			}
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n"), nil
}

// Write sends literal text to the PTY without a trailing newline.
func (t *Transport) Write(ctx context.Context, data string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.TransportError(t.sessionID, err)
	}
	if t.hasExited() {
		return apperrors.TransportError(t.sessionID, fmt.Errorf("process already exited"))
	}
	if _, err := t.ptyFile.Write([]byte(data)); err != nil {
		return apperrors.TransportError(t.sessionID, fmt.Errorf("pty write: %w", err))
	}
	return nil
}

// WriteSubmit sends a carriage return, the Enter keypress on a PTY.
func (t *Transport) WriteSubmit(ctx context.Context) error {
	return t.Write(ctx, "\r")
}

// ExitCode returns the process exit code once it has exited.
func (t *Transport) ExitCode() (int, bool) {
	t.exitMu.RLock()
	defer t.exitMu.RUnlock()
	return t.exitCode, t.exited
}

// Done is closed after the process has been reaped.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close terminates the process if still running and releases the PTY.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if !t.hasExited() && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		err = t.ptyFile.Close()
	})
	return err
}

func (t *Transport) hasExited() bool {
	t.exitMu.RLock()
	defer t.exitMu.RUnlock()
	return t.exited
}
