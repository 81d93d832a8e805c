// Package session defines the transport abstraction the supervisor uses to
// observe and drive a running agent session, independent of whether the
// session lives in a tmux pane or a locally spawned PTY.
package session

import "context"

// Transport is the minimal surface needed to supervise one agent session.
//
// Write and WriteSubmit are deliberately separate operations: terminal
// multiplexers wrap pasted text in bracketed-paste markers, and a newline
// sent in the same buffer as the paste-end marker gets swallowed by async
// TUI frameworks. Callers paste first, wait for the target to settle, then
// submit.
type Transport interface {
	// SessionID returns the stable identifier of the supervised session.
	SessionID() string

	// ReadRecentOutput returns a bounded window of recent output,
	// including scrollback, newest last.
	ReadRecentOutput(ctx context.Context) (string, error)

	// ScreenContent returns the currently visible terminal content.
	ScreenContent(ctx context.Context) (string, error)

	// Write sends literal text to the session without submitting it.
	Write(ctx context.Context, data string) error

	// WriteSubmit sends a bare Enter keypress.
	WriteSubmit(ctx context.Context) error

	// Close releases transport resources. It does not terminate the
	// underlying session unless the transport owns the process.
	Close() error
}
