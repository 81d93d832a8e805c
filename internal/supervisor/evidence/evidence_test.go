package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_CompletionSignals(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, s Set)
	}{
		{
			name:  "task marked complete",
			input: "Task marked as complete. Moving on.",
			check: func(t *testing.T, s Set) {
				assert.True(t, s.Completion.TaskMarkedComplete)
			},
		},
		{
			name:  "tests passed and build succeeded",
			input: "All tests passed (42 passed, 0 failed). Build succeeded.",
			check: func(t *testing.T, s Set) {
				assert.True(t, s.Completion.TestsAllPassed)
				assert.True(t, s.Completion.BuildSucceeded)
				assert.False(t, s.Error.HasError, "0 failed must not read as a test failure")
			},
		},
		{
			name:  "git commit summary line",
			input: "[main abc1234] fix bug in parser\n 2 files changed, 10 insertions(+)",
			check: func(t *testing.T, s Set) {
				assert.True(t, s.Completion.CommitMade)
			},
		},
		{
			name:  "pull request URL",
			input: "Created PR: https://github.com/acme/widgets/pull/17",
			check: func(t *testing.T, s Set) {
				assert.True(t, s.Completion.PRCreated)
			},
		},
		{
			name:  "explicit done",
			input: "All done.\n",
			check: func(t *testing.T, s Set) {
				assert.True(t, s.Completion.ExplicitDone)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Extract(tt.input))
		})
	}
}

func TestExtract_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantClass ErrorClass
	}{
		{"missing module is compile", "Error: Cannot find module 'x'", ErrorClassCompile},
		{"syntax error is compile", "  syntax error near unexpected token", ErrorClassCompile},
		{"failing tests", "3 tests failed, 12 passed", ErrorClassTest},
		{"go test failure", "FAIL\tgithub.com/acme/widgets\t0.41s", ErrorClassTest},
		{"panic is runtime", "panic: runtime error: index out of range", ErrorClassRuntime},
		{"python traceback is runtime", "Traceback (most recent call last):\n  File \"x.py\"", ErrorClassRuntime},
		{"permission denied", "open /etc/shadow: permission denied", ErrorClassPermission},
		{"generic error is unknown", "Error! something went wrong", ErrorClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Extract(tt.input)
			require.True(t, s.Error.HasError)
			assert.Equal(t, tt.wantClass, s.Error.Class)
		})
	}
}

func TestExtract_ErrorClassPrecedence(t *testing.T) {
	// Compile evidence must win even when runtime phrasing appears first
	// in the buffer, because class tables are consulted in fixed order.
	input := "fatal error: unexpected state\nsyntax error in main.go line 3"
	s := Extract(input)

	require.True(t, s.Error.HasError)
	assert.Equal(t, ErrorClassCompile, s.Error.Class)
}

func TestExtract_ErrorSnippetBounded(t *testing.T) {
	input := "Error: Cannot find module 'x'\ndetail line one\ndetail line two\ndetail line three\ndetail line four"
	s := Extract(input)

	require.True(t, s.Error.HasError)
	assert.Equal(t, "Error: Cannot find module 'x'\ndetail line one\ndetail line two", s.Error.Snippet)
}

func TestExtract_WaitingSignals(t *testing.T) {
	s := Extract("Do you want to proceed? [y/n]")
	assert.True(t, s.Waiting.ForApproval)

	s = Extract("Waiting for your input before continuing")
	assert.True(t, s.Waiting.ForInput)

	s = Extract("Should I refactor the config loader as well?")
	assert.True(t, s.Waiting.AskingQuestion)

	s = Extract("Waiting on another agent to finish the schema migration")
	assert.True(t, s.Waiting.ForOtherAgent)
}

func TestExtract_IdleBarePromptNoNewline(t *testing.T) {
	// A bare prompt with no trailing newline is idle: interactive shells
	// never emit a newline after showing their prompt.
	s := Extract("make test\nok  github.com/acme/widgets  1.2s\nuser@host:~/widgets$ ")
	assert.True(t, s.Idle.AtPrompt)
	assert.True(t, s.Idle.Idle())

	s = Extract("still working on it")
	assert.False(t, s.Idle.AtPrompt)
}

func TestExtract_IdleExitBannerCoexistsWithCompletion(t *testing.T) {
	// Exit banner and completion flags are not mutually exclusive; the
	// classifier resolves precedence, the extractor reports both.
	s := Extract("Task marked complete.\nSession ended\n")
	assert.True(t, s.Idle.ToolExited)
	assert.True(t, s.Completion.TaskMarkedComplete)
}

func TestExtract_StripsANSIBeforeMatching(t *testing.T) {
	styled := "\x1b[32mAll tests passed\x1b[0m (5 passed, 0 failed)\n\x1b[1mBuild succeeded\x1b[0m"
	s := Extract(styled)

	assert.True(t, s.Completion.TestsAllPassed)
	assert.True(t, s.Completion.BuildSucceeded)
}

func TestExtract_Idempotent(t *testing.T) {
	input := "Error: Cannot find module 'x'\nsome context\nuser@host$ "

	first := Extract(input)
	second := Extract(input)

	assert.Equal(t, first, second)
}

func TestStripControlSequences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"sgr styling", "\x1b[1;31mred\x1b[0m text", "red text"},
		{"osc title", "\x1b]0;window title\x07hello", "hello"},
		{"cursor movement", "\x1b[2J\x1b[Hcleared", "cleared"},
		{"carriage return rewrites line", "progress 10%\rprogress 99%\rdone\n", "done\n"},
		{"plain text untouched", "nothing special here\n", "nothing special here\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripControlSequences(tt.input))
		})
	}
}
