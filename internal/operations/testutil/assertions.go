package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSy/PortfolioAnalysis/internal/operations"
)

// AssertStepStatus verifies a step has the expected status
func AssertStepStatus(t *testing.T, state *operations.OperationState, stageID string, expected operations.StepStatus) {
	t.Helper()
	step := state.GetStage(stageID)
	require.NotNil(t, step, "step %s not found", stageID)
	assert.Equal(t, expected, step.GetStatus(), "step %s", stageID)
}

// AssertStageFailed verifies a step failed with an error attached
func AssertStageFailed(t *testing.T, state *operations.OperationState, stageID string) {
	t.Helper()
	AssertStepStatus(t, state, stageID, operations.StepStatusFailed)
	assert.Error(t, state.GetStage(stageID).Error, "step %s has no error", stageID)
}

// AssertSummaryStep verifies the summary lists the step with the expected status
func AssertSummaryStep(t *testing.T, resp *operations.OperationResponse, stageID string, expected operations.StepStatus) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Summary)
	for _, s := range resp.Summary.Steps {
		if s.ID == stageID {
			assert.Equal(t, string(expected), s.Status, "summary step %s", stageID)
			return
		}
	}
	t.Errorf("summary has no step %s", stageID)
}

// AssertErrorType verifies err is an OperationError of the expected type
func AssertErrorType(t *testing.T, err error, expected operations.ErrorType) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, expected, operations.GetErrorType(err))
}

// AssertExecutionOrder verifies the steps ran in the given order
func AssertExecutionOrder(t *testing.T, steps map[string]*MockStage, expected []string) {
	t.Helper()
	for i := 1; i < len(expected); i++ {
		prev, cur := steps[expected[i-1]], steps[expected[i]]
		require.NotEmpty(t, prev.ExecuteTimes, "step %s never ran", prev.IDValue)
		require.NotEmpty(t, cur.ExecuteTimes, "step %s never ran", cur.IDValue)
		assert.False(t, cur.ExecuteTimes[0].Before(prev.ExecuteTimes[0]),
			"step %s ran before %s", cur.IDValue, prev.IDValue)
	}
}
