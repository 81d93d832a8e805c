// Package evidence scans raw terminal output from coding-agent sessions and
// extracts structured signals about what the agent appears to be doing.
//
// Extraction is pure pattern matching over the cleaned text: no I/O, no
// stored state, safe to call concurrently and repeatedly on the same input.
package evidence

import "strings"

// ErrorClass categorizes a detected error signal.
type ErrorClass string

const (
	ErrorClassCompile    ErrorClass = "compile"
	ErrorClassTest       ErrorClass = "test"
	ErrorClassRuntime    ErrorClass = "runtime"
	ErrorClassPermission ErrorClass = "permission"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// CompletionSignals are the completion-group flags.
type CompletionSignals struct {
	TaskMarkedComplete bool `json:"task_marked_complete"`
	TestsAllPassed     bool `json:"tests_all_passed"`
	BuildSucceeded     bool `json:"build_succeeded"`
	CommitMade         bool `json:"commit_made"`
	PRCreated          bool `json:"pr_created"`
	ExplicitDone       bool `json:"explicit_done"`
}

// ErrorSignals are the error-group flags plus the extracted snippet.
type ErrorSignals struct {
	HasError bool       `json:"has_error"`
	Class    ErrorClass `json:"class,omitempty"`
	Snippet  string     `json:"snippet,omitempty"`
}

// WaitingSignals are the waiting-group flags.
type WaitingSignals struct {
	ForInput       bool `json:"for_input"`
	ForApproval    bool `json:"for_approval"`
	AskingQuestion bool `json:"asking_question"`
	ForOtherAgent  bool `json:"for_other_agent"`
}

// IdleSignals are the idle-group flags.
type IdleSignals struct {
	// AtPrompt is true when the output ends in a bare shell/tool prompt
	// with no pending output (a trailing newline is not required).
	AtPrompt bool `json:"at_prompt"`
	// ToolExited is true when a tool-exit banner is present. It can be
	// true together with completion flags; precedence between the two
	// is the classifier's concern, not ours.
	ToolExited bool `json:"tool_exited"`
}

// Idle reports whether either idle condition holds.
func (s IdleSignals) Idle() bool {
	return s.AtPrompt || s.ToolExited
}

// Set is the full extraction result. The four groups are computed
// independently: a miss in one group never suppresses another.
type Set struct {
	Completion CompletionSignals `json:"completion"`
	Error      ErrorSignals      `json:"error"`
	Waiting    WaitingSignals    `json:"waiting"`
	Idle       IdleSignals       `json:"idle"`
}

// Extract scans a block of terminal output and returns the evidence set.
// Known terminal control sequences are stripped before matching so that
// styled TUI output matches the same as plain text.
func Extract(rawOutput string) Set {
	text := StripControlSequences(rawOutput)
	lines := strings.Split(text, "\n")

	return Set{
		Completion: extractCompletion(text),
		Error:      extractError(lines),
		Waiting:    extractWaiting(text),
		Idle:       extractIdle(text, lines),
	}
}

func extractCompletion(text string) CompletionSignals {
	return CompletionSignals{
		TaskMarkedComplete: anyMatch(taskCompletePatterns, text),
		TestsAllPassed:     anyMatch(testsPassedPatterns, text),
		BuildSucceeded:     anyMatch(buildSucceededPatterns, text),
		CommitMade:         anyMatch(commitMadePatterns, text),
		PRCreated:          anyMatch(prCreatedPatterns, text),
		ExplicitDone:       anyMatch(explicitDonePatterns, text),
	}
}

// extractError scans line by line so the snippet can carry bounded context:
// the matching line plus the two lines that follow it.
//
// Class resolution is first-match-wins across the ordered class tables
// (compile before test before runtime before permission); generic error
// phrasing that matches no class table yields ErrorClassUnknown.
func extractError(lines []string) ErrorSignals {
	for _, table := range errorClassTables {
		for i, line := range lines {
			if anyMatch(table.patterns, line) {
				return ErrorSignals{
					HasError: true,
					Class:    table.class,
					Snippet:  snippetAt(lines, i),
				}
			}
		}
	}

	for i, line := range lines {
		if anyMatch(genericErrorPatterns, line) {
			return ErrorSignals{
				HasError: true,
				Class:    ErrorClassUnknown,
				Snippet:  snippetAt(lines, i),
			}
		}
	}

	return ErrorSignals{}
}

func extractWaiting(text string) WaitingSignals {
	return WaitingSignals{
		ForInput:       anyMatch(waitingInputPatterns, text),
		ForApproval:    anyMatch(waitingApprovalPatterns, text),
		AskingQuestion: anyMatch(askingQuestionPatterns, text),
		ForOtherAgent:  anyMatch(waitingOtherAgentPatterns, text),
	}
}

func extractIdle(text string, lines []string) IdleSignals {
	return IdleSignals{
		AtPrompt:   endsAtBarePrompt(lines),
		ToolExited: anyMatch(toolExitPatterns, text),
	}
}

// endsAtBarePrompt reports whether the last non-blank line is a bare
// shell/tool prompt. Text ending in a prompt character with no trailing
// newline counts: an interactive shell showing its prompt never emits one.
func endsAtBarePrompt(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t")
		if line == "" {
			continue
		}
		return barePromptPattern.MatchString(line)
	}
	return false
}

// snippetAt returns lines[i] plus up to two following lines, joined by
// newlines. Bounded context, never the whole buffer.
func snippetAt(lines []string, i int) string {
	end := i + 3
	if end > len(lines) {
		end = len(lines)
	}
	snippet := make([]string, 0, 3)
	for _, line := range lines[i:end] {
		snippet = append(snippet, strings.TrimRight(line, " \t"))
	}
	return strings.Join(snippet, "\n")
}
