package supervisor

import (
	"fmt"
	"strings"

	"github.com/shepherd/shepherd/internal/supervisor/classifier"
	"github.com/shepherd/shepherd/internal/supervisor/evidence"
)

// continuationPrompt is the nudge for a session that stopped short with no
// error. It stays generic so it cannot contradict the task instructions
// already in the agent's context.
func continuationPrompt(c classifier.Conclusion) string {
	var sb strings.Builder
	sb.WriteString("Continue working on the current task.")
	if c.MaxIterations > 0 {
		remaining := c.MaxIterations - c.IterationsCompleted
		sb.WriteString(fmt.Sprintf(" You have %d iteration(s) remaining.", remaining))
	}
	sb.WriteString(" When the task is done, run the tests, commit the work, and state that the task is complete.")
	return sb.String()
}

// retryPrompt points the agent at the detected error. The snippet gives it
// something concrete to act on instead of a bare "try again".
func retryPrompt(c classifier.Conclusion, ev evidence.Set) string {
	var sb strings.Builder
	sb.WriteString("The last run hit a problem. ")
	switch ev.Error.Class {
	case evidence.ErrorClassCompile:
		sb.WriteString("Fix the build/compile error before continuing.")
	case evidence.ErrorClassTest:
		sb.WriteString("Fix the failing tests before continuing.")
	case evidence.ErrorClassPermission:
		sb.WriteString("A permission or access error occurred; work around it or pick an allowed approach.")
	case evidence.ErrorClassRuntime:
		sb.WriteString("Fix the runtime error before continuing.")
	default:
		sb.WriteString("Investigate the error below and fix it before continuing.")
	}
	if ev.Error.Snippet != "" {
		sb.WriteString("\n\nObserved output:\n")
		sb.WriteString(ev.Error.Snippet)
	}
	return sb.String()
}

// taskPrompt introduces a freshly assigned task.
func taskPrompt(title, prompt string) string {
	if prompt == "" {
		return fmt.Sprintf("New task: %s", title)
	}
	return fmt.Sprintf("New task: %s\n\n%s", title, prompt)
}
