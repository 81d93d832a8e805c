// Package classifier turns extracted terminal evidence plus task context
// into a single conclusion about an agent session: its state, a confidence
// score, a human-readable evidence trail, and the recommended next action.
package classifier

import (
	"fmt"
	"time"

	"github.com/shepherd/shepherd/internal/supervisor/evidence"
)

// State is the classified agent session state.
type State string

const (
	StateTaskComplete  State = "TASK_COMPLETE"
	StateIncomplete    State = "INCOMPLETE"
	StateStuckOrError  State = "STUCK_OR_ERROR"
	StateWaitingInput  State = "WAITING_INPUT"
	StateMaxIterations State = "MAX_ITERATIONS"
	StateUnknown       State = "UNKNOWN"
)

// Action is the recommended follow-up for a conclusion.
type Action string

const (
	ActionAssignNextTask Action = "assign_next_task"
	ActionInjectPrompt   Action = "inject_prompt"
	ActionRetryWithHints Action = "retry_with_hints"
	ActionNotifyOwner    Action = "notify_owner"
	ActionNoAction       Action = "no_action"
)

// TaskContext carries the current task reference and its iteration budget.
type TaskContext struct {
	TaskID              string `json:"task_id"`
	IterationsCompleted int    `json:"iterations_completed"`
	MaxIterations       int    `json:"max_iterations"`
}

// Observation is an immutable snapshot passed in for one evaluation.
// RawOutput should be a bounded recent window, not unbounded history.
type Observation struct {
	SessionID string       `json:"session_id"`
	RawOutput string       `json:"raw_output"`
	ExitCode  *int         `json:"exit_code,omitempty"`
	Task      *TaskContext `json:"task,omitempty"`
	Previous  *Conclusion  `json:"previous,omitempty"`
}

// Conclusion is the classifier's verdict. It is immutable once produced;
// callers persist it as the Previous input to the next observation and
// never mutate it in place.
type Conclusion struct {
	State               State                `json:"state"`
	Confidence          float64              `json:"confidence"`
	Evidence            []string             `json:"evidence"`
	Action              Action               `json:"action"`
	ErrorClass          evidence.ErrorClass  `json:"error_class,omitempty"`
	IterationsCompleted int                  `json:"iterations_completed"`
	MaxIterations       int                  `json:"max_iterations"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Classify applies the precedence ladder to one observation. The first
// matching rule wins; later rules are not evaluated once one fires.
//
// Ordering rationale: hard resource limits must never be overridden by
// heuristic signals; explicit completion markers are the most trustworthy
// signal and outrank inferred ones; errors outrank idleness because an
// erroring-then-idle session is still erroring.
func Classify(obs Observation, ev evidence.Set) Conclusion {
	iterations, maxIterations := iterationBudget(obs)

	c := conclude(obs, ev, iterations, maxIterations)

	if obs.Previous != nil && obs.Previous.State == c.State {
		c.Evidence = append(c.Evidence, fmt.Sprintf("state %s unchanged since previous observation", c.State))
	}

	return c
}

func conclude(obs Observation, ev evidence.Set, iterations, maxIterations int) Conclusion {
	base := Conclusion{
		IterationsCompleted: iterations,
		MaxIterations:       maxIterations,
		CreatedAt:           time.Now().UTC(),
	}

	// Rule 1: the iteration budget is absolute. An agent that is
	// technically done but over budget is still reported, not
	// auto-continued.
	if maxIterations > 0 && iterations >= maxIterations {
		base.State = StateMaxIterations
		base.Confidence = 1.0
		base.Action = ActionNotifyOwner
		base.Evidence = append(base.Evidence,
			fmt.Sprintf("iteration budget exhausted (%d/%d)", iterations, maxIterations))
		return base
	}

	// Rule 2: an explicit completion marker is the strongest heuristic.
	if ev.Completion.TaskMarkedComplete {
		base.State = StateTaskComplete
		base.Confidence = 0.95
		base.Action = ActionAssignNextTask
		base.Evidence = append(base.Evidence, "task explicitly marked complete")
		base.Evidence = appendCompletionDetail(base.Evidence, ev.Completion)
		return base
	}

	// Rule 3: inferred completion from tests + build, gated on a commit.
	if ev.Completion.TestsAllPassed && ev.Completion.BuildSucceeded {
		base.Evidence = append(base.Evidence, "tests passed", "build succeeded")
		if ev.Completion.CommitMade {
			base.State = StateTaskComplete
			base.Confidence = 0.85
			base.Action = ActionAssignNextTask
			base.Evidence = append(base.Evidence, "commit made")
			base.Evidence = appendCompletionDetail(base.Evidence, ev.Completion)
			return base
		}
		base.State = StateIncomplete
		base.Confidence = 0.70
		base.Action = ActionInjectPrompt
		base.Evidence = append(base.Evidence, "tests/build pass but no commit detected")
		return base
	}

	// Rule 4: errors outrank waiting and idleness.
	if ev.Error.HasError {
		base.State = StateStuckOrError
		base.Confidence = 0.80
		base.Action = ActionRetryWithHints
		base.ErrorClass = ev.Error.Class
		base.Evidence = append(base.Evidence, fmt.Sprintf("error detected (class: %s)", ev.Error.Class))
		if ev.Error.Snippet != "" {
			base.Evidence = append(base.Evidence, "error snippet: "+firstLine(ev.Error.Snippet))
		}
		return base
	}

	// Rule 5: the agent is blocked on a human.
	if ev.Waiting.ForInput || ev.Waiting.AskingQuestion {
		base.State = StateWaitingInput
		base.Confidence = 0.75
		base.Action = ActionNotifyOwner
		if ev.Waiting.ForInput {
			base.Evidence = append(base.Evidence, "waiting for input")
		}
		if ev.Waiting.AskingQuestion {
			base.Evidence = append(base.Evidence, "asking a question")
		}
		return base
	}

	// Waiting on another agent always escalates: auto-resolution risks
	// silent deadlock between two mutually waiting agents.
	if ev.Waiting.ForOtherAgent || ev.Waiting.ForApproval {
		base.State = StateWaitingInput
		base.Confidence = 0.75
		base.Action = ActionNotifyOwner
		if ev.Waiting.ForOtherAgent {
			base.Evidence = append(base.Evidence, "waiting for another agent")
		}
		if ev.Waiting.ForApproval {
			base.Evidence = append(base.Evidence, "waiting for approval")
		}
		return base
	}

	// Rule 6: idle with none of the above means the agent stopped short.
	if ev.Idle.Idle() {
		base.State = StateIncomplete
		base.Confidence = 0.60
		base.Action = ActionInjectPrompt
		if ev.Idle.AtPrompt {
			base.Evidence = append(base.Evidence, "session idle at bare prompt")
		}
		if ev.Idle.ToolExited {
			base.Evidence = append(base.Evidence, "tool exit banner present")
		}
		return base
	}

	// Rule 7: fall back to the process exit code when nothing in the
	// output was conclusive.
	if obs.ExitCode != nil {
		if *obs.ExitCode == 0 {
			base.State = StateIncomplete
			base.Confidence = 0.50
			base.Action = ActionInjectPrompt
			base.Evidence = append(base.Evidence, "process exited cleanly (code 0) without completion markers")
			return base
		}
		base.State = StateStuckOrError
		base.Confidence = 0.70
		base.Action = ActionRetryWithHints
		base.Evidence = append(base.Evidence, fmt.Sprintf("process exited with code %d", *obs.ExitCode))
		return base
	}

	// Rule 8: ambiguity is a valid low-confidence conclusion, never an error.
	base.State = StateUnknown
	base.Confidence = 0.50
	base.Action = ActionNoAction
	base.Evidence = append(base.Evidence, "no conclusive signals in output")
	return base
}

// iterationBudget resolves the effective iteration counters for an
// observation; a missing task context disables the budget rule.
func iterationBudget(obs Observation) (int, int) {
	if obs.Task == nil {
		return 0, 0
	}
	return obs.Task.IterationsCompleted, obs.Task.MaxIterations
}

// appendCompletionDetail adds secondary completion evidence that does not
// affect the decision but helps an operator audit it.
func appendCompletionDetail(trail []string, c evidence.CompletionSignals) []string {
	if c.PRCreated {
		trail = append(trail, "pull request created")
	}
	if c.ExplicitDone {
		trail = append(trail, "explicit done phrasing")
	}
	return trail
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
