package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/core"
)

func newTestExecutor(t *testing.T, vocab int, maxTokens int, candidates int) (*core.Executor, *core.StubRunner) {
	t.Helper()
	runner := core.NewStubRunner(vocab)
	settings := core.ExecutorSettings{
		Backend:           core.BackendCPU,
		PrefillChunkSizes: []int{4, 16},
		PadTokenID:        0,
		Mask:              core.MaskCausal,
		MaxNumTokens:      maxTokens,
	}
	layers := map[string][]int{"layer0": {2, 2}}
	exec := core.NewExecutor(runner, settings, layers, candidates)
	return exec, runner
}

func TestPrefillAdvancesCurrentStep(t *testing.T) {
	exec, _ := newTestExecutor(t, 32, 64, 1)
	in := core.ExecutorInputs{IDs: []int{1, 2, 3, 4, 5}}

	res, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.PendingTokenID)
	assert.Equal(t, 5, exec.CurrentStep())
}

func TestPrefillRejectsEmptyInput(t *testing.T) {
	exec, _ := newTestExecutor(t, 32, 64, 1)
	_, err := exec.Prefill(context.Background(), core.ExecutorInputs{}, core.PrefillParams{})
	assert.Error(t, err)
}

func TestPrefillRejectsOverLongInput(t *testing.T) {
	exec, _ := newTestExecutor(t, 32, 8, 1)
	in := core.ExecutorInputs{IDs: make([]int, 20)}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	assert.Error(t, err)
}

func TestSetCurrentStepRollback(t *testing.T) {
	exec, _ := newTestExecutor(t, 32, 64, 1)
	in := core.ExecutorInputs{IDs: []int{1, 2, 3, 4, 5}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	require.NoError(t, exec.SetCurrentStep(2))
	assert.Equal(t, 2, exec.CurrentStep())

	err = exec.SetCurrentStep(99)
	assert.Error(t, err)
}

func TestDecodeStopsOnStopTokenSequence(t *testing.T) {
	exec, runner := newTestExecutor(t, 32, 64, 1)
	runner.Script = []int{7, 7}
	exec.SetStopTokenIDs([][]int{{7, 7}})
	exec.SetSamplerParams(core.Greedy())

	in := core.ExecutorInputs{IDs: []int{1, 2, 3}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	maxOut := 50
	resp, err := exec.Decode(context.Background(), core.DecodeConfig{MaxOutputTokens: &maxOut}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskDone, resp.TaskState)
}

func TestDecodeStopsAtMaxOutputTokens(t *testing.T) {
	exec, runner := newTestExecutor(t, 32, 64, 1)
	runner.Script = []int{3} // never matches any stop sequence
	exec.SetStopTokenIDs([][]int{{9, 9}})
	exec.SetSamplerParams(core.Greedy())

	in := core.ExecutorInputs{IDs: []int{1, 2}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	maxOut := 3
	resp, err := exec.Decode(context.Background(), core.DecodeConfig{MaxOutputTokens: &maxOut}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskMaxNumTokensReached, resp.TaskState)
}

func TestDecodeHonorsCancellation(t *testing.T) {
	exec, runner := newTestExecutor(t, 32, 64, 1)
	runner.Script = []int{3}
	exec.SetStopTokenIDs([][]int{{9}})
	exec.SetSamplerParams(core.Greedy())

	in := core.ExecutorInputs{IDs: []int{1}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	cancelled := func() bool { return true }
	maxOut := 100
	resp, err := exec.Decode(context.Background(), core.DecodeConfig{MaxOutputTokens: &maxOut}, cancelled)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, resp.TaskState)
}

func TestDecodeStreamEmitsStepAndFinalCallbacks(t *testing.T) {
	exec, runner := newTestExecutor(t, 32, 64, 1)
	runner.Script = []int{5, 5}
	exec.SetStopTokenIDs([][]int{{5, 5}})
	exec.SetSamplerParams(core.Greedy())

	in := core.ExecutorInputs{IDs: []int{1}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	detok := func(id int) string { return fmt.Sprintf("<%d>", id) }
	var seen []core.Responses
	maxOut := 10
	err = exec.DecodeStream(context.Background(), core.DecodeConfig{MaxOutputTokens: &maxOut}, nil, detok, func(r core.Responses) {
		seen = append(seen, r)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, core.TaskDone, last.TaskState)
	assert.Contains(t, last.Texts[0], "<5>")
}

func TestConstraintMaskBlocksDisallowedTokens(t *testing.T) {
	exec, runner := newTestExecutor(t, 4, 64, 1)
	runner.Script = []int{1} // stub prefers id 1, which the constraint blocks
	exec.SetStopTokenIDs([][]int{{2}})
	exec.SetSamplerParams(core.Greedy())
	exec.SetConstraint(&onlyAllow{id: 2})

	in := core.ExecutorInputs{IDs: []int{0}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	maxOut := 5
	resp, err := exec.Decode(context.Background(), core.DecodeConfig{MaxOutputTokens: &maxOut}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskDone, resp.TaskState)
}

// onlyAllow is a test Constraint that permits exactly one token id and never
// ends on its own.
type onlyAllow struct{ id int }

func (c *onlyAllow) AllowedMask(vocabSize int) []bool {
	mask := make([]bool, vocabSize)
	if c.id < vocabSize {
		mask[c.id] = true
	}
	return mask
}
func (c *onlyAllow) Advance(int)  {}
func (c *onlyAllow) IsEnded() bool { return false }
func (c *onlyAllow) Reset()        {}

func TestExecutorResetClearsState(t *testing.T) {
	exec, _ := newTestExecutor(t, 32, 64, 1)
	in := core.ExecutorInputs{IDs: []int{1, 2, 3}}
	_, err := exec.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)
	require.Equal(t, 3, exec.CurrentStep())

	exec.Reset()
	assert.Equal(t, 0, exec.CurrentStep())
	assert.False(t, exec.Context().HasPending())
}

func TestBindContextSwapsSessionState(t *testing.T) {
	execA, _ := newTestExecutor(t, 32, 64, 1)
	in := core.ExecutorInputs{IDs: []int{1, 2}}
	_, err := execA.Prefill(context.Background(), in, core.PrefillParams{})
	require.NoError(t, err)

	cloned := execA.Context().Clone()
	execB, _ := newTestExecutor(t, 32, 64, 1)
	execB.BindContext(cloned, execA.CurrentStep())

	assert.Equal(t, execA.CurrentStep(), execB.CurrentStep())
	assert.Equal(t, len(execA.Context().ProcessedTokens), len(execB.Context().ProcessedTokens))
}
