package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd/shepherd/internal/supervisor/evidence"
)

func classify(t *testing.T, obs Observation) Conclusion {
	t.Helper()
	return Classify(obs, evidence.Extract(obs.RawOutput))
}

func intPtr(v int) *int { return &v }

func TestClassify_InferredCompletionWithCommit(t *testing.T) {
	out := strings.Join([]string{
		"Running test suite...",
		"All tests passed",
		"Build succeeded",
		"[main 3fa9c21] add retry logic to fetcher",
	}, "\n")

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateTaskComplete, c.State)
	assert.InDelta(t, 0.85, c.Confidence, 0.001)
	assert.Equal(t, ActionAssignNextTask, c.Action)
	assert.Contains(t, c.Evidence, "tests passed")
	assert.Contains(t, c.Evidence, "build succeeded")
	assert.Contains(t, c.Evidence, "commit made")
}

func TestClassify_InferredCompletionWithoutCommit(t *testing.T) {
	out := "All tests passed\nBuild succeeded\n"

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateIncomplete, c.State)
	assert.InDelta(t, 0.70, c.Confidence, 0.001)
	assert.Equal(t, ActionInjectPrompt, c.Action)
	assert.Contains(t, c.Evidence, "tests/build pass but no commit detected")
}

func TestClassify_ExplicitCompleteBeatsEverythingButBudget(t *testing.T) {
	out := "Error: something broke earlier\nTask complete\n"

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateTaskComplete, c.State)
	assert.InDelta(t, 0.95, c.Confidence, 0.001)
	assert.Equal(t, ActionAssignNextTask, c.Action)
}

func TestClassify_IterationBudgetIsAbsolute(t *testing.T) {
	// Completion markers present, but the budget rule must still win.
	out := "All tests passed\nBuild succeeded\n[main abc1234] done\nTask complete\n"

	c := classify(t, Observation{
		SessionID: "s1",
		RawOutput: out,
		Task:      &TaskContext{TaskID: "t1", IterationsCompleted: 10, MaxIterations: 10},
	})

	assert.Equal(t, StateMaxIterations, c.State)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, ActionNotifyOwner, c.Action)
	assert.Equal(t, 10, c.IterationsCompleted)
	assert.Equal(t, 10, c.MaxIterations)
	require.NotEmpty(t, c.Evidence)
	assert.Contains(t, c.Evidence[0], "iteration budget exhausted")
}

func TestClassify_ErrorOutranksIdle(t *testing.T) {
	out := "error TS2304: cannot find name 'foo'\n$ "

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateStuckOrError, c.State)
	assert.InDelta(t, 0.80, c.Confidence, 0.001)
	assert.Equal(t, ActionRetryWithHints, c.Action)
	assert.Equal(t, evidence.ErrorClassCompile, c.ErrorClass)
}

func TestClassify_WaitingForInput(t *testing.T) {
	out := "Do you want to proceed? (y/n)"

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateWaitingInput, c.State)
	assert.InDelta(t, 0.75, c.Confidence, 0.001)
	assert.Equal(t, ActionNotifyOwner, c.Action)
}

func TestClassify_WaitingOnOtherAgentEscalates(t *testing.T) {
	out := "waiting for agent worker-2 to finish the migration\n"

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateWaitingInput, c.State)
	assert.Equal(t, ActionNotifyOwner, c.Action)
	assert.Contains(t, c.Evidence, "waiting for another agent")
}

func TestClassify_IdleAtPrompt(t *testing.T) {
	out := "did some work\n$ "

	c := classify(t, Observation{SessionID: "s1", RawOutput: out})

	assert.Equal(t, StateIncomplete, c.State)
	assert.InDelta(t, 0.60, c.Confidence, 0.001)
	assert.Equal(t, ActionInjectPrompt, c.Action)
}

func TestClassify_ExitCodeFallback(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		wantState  State
		wantConf   float64
		wantAction Action
	}{
		{"clean exit", 0, StateIncomplete, 0.50, ActionInjectPrompt},
		{"failure exit", 1, StateStuckOrError, 0.70, ActionRetryWithHints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classify(t, Observation{
				SessionID: "s1",
				RawOutput: "some uninformative text\ncontinuing",
				ExitCode:  intPtr(tt.exitCode),
			})
			assert.Equal(t, tt.wantState, c.State)
			assert.InDelta(t, tt.wantConf, c.Confidence, 0.001)
			assert.Equal(t, tt.wantAction, c.Action)
		})
	}
}

func TestClassify_UnknownWhenNothingMatches(t *testing.T) {
	c := classify(t, Observation{SessionID: "s1", RawOutput: "some uninformative text\ncontinuing"})

	assert.Equal(t, StateUnknown, c.State)
	assert.InDelta(t, 0.50, c.Confidence, 0.001)
	assert.Equal(t, ActionNoAction, c.Action)
}

func TestClassify_EvidenceNeverEmptyForDecisiveStates(t *testing.T) {
	outputs := []string{
		"Task complete",
		"All tests passed\nBuild succeeded\n",
		"Error: ENOENT no such file\n",
		"continue? (y/n)",
		"$ ",
	}
	for _, out := range outputs {
		c := classify(t, Observation{SessionID: "s1", RawOutput: out})
		require.NotEqual(t, StateUnknown, c.State, "output %q", out)
		assert.NotEmpty(t, c.Evidence, "output %q", out)
	}
}

func TestClassify_AnnotatesRepeatedState(t *testing.T) {
	prev := Conclusion{State: StateIncomplete}

	c := classify(t, Observation{
		SessionID: "s1",
		RawOutput: "did some work\n$ ",
		Previous:  &prev,
	})

	assert.Equal(t, StateIncomplete, c.State)
	found := false
	for _, e := range c.Evidence {
		if strings.Contains(e, "unchanged since previous observation") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestClassify_NoTaskContextDisablesBudget(t *testing.T) {
	c := classify(t, Observation{SessionID: "s1", RawOutput: "Task complete"})

	assert.Equal(t, StateTaskComplete, c.State)
	assert.Zero(t, c.MaxIterations)
}
