package manager_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/manager"
)

func newTestManager(t *testing.T) *manager.ExecutionManager {
	t.Helper()
	runner := core.NewStubRunner(16)
	settings := core.ExecutorSettings{
		Backend:           core.BackendCPU,
		PrefillChunkSizes: []int{8},
		Mask:              core.MaskCausal,
		MaxNumTokens:      128,
	}
	exec := core.NewExecutor(runner, settings, map[string][]int{"layer0": {2, 2}}, 1)
	m := manager.New(exec)
	t.Cleanup(m.Close)
	return m
}

func TestPrefillThenDecodeRunsInOrder(t *testing.T) {
	m := newTestManager(t)
	session := m.RegisterNewSession(core.DefaultSessionConfig(), map[string][]int{"layer0": {2, 2}})

	var mu sync.Mutex
	var callOrder []string

	prefillID, err := m.AddPrefillTask(context.Background(), session, core.ExecutorInputs{IDs: []int{1, 2, 3}}, core.PrefillParams{}, nil, nil, func(r core.Responses, err error) {
		mu.Lock()
		callOrder = append(callOrder, "prefill")
		mu.Unlock()
	})
	require.NoError(t, err)

	maxOut := 3
	decodeID, err := m.AddDecodeTask(context.Background(), session, core.DecodeConfig{MaxOutputTokens: &maxOut}, nil, nil, []manager.TaskID{prefillID}, nil, func(r core.Responses, err error) {
		mu.Lock()
		callOrder = append(callOrder, "decode")
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = m.WaitUntilDone(decodeID, 2*time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, callOrder, 2)
	assert.Equal(t, []string{"prefill", "decode"}, callOrder)
}

func TestWaitUntilDoneRejectsUnknownTask(t *testing.T) {
	m := newTestManager(t)
	_, err := m.WaitUntilDone(manager.TaskID(9999), time.Second)
	assert.Error(t, err)
}

func TestCancelAllTasksInSessionMarksRunningTaskCancelled(t *testing.T) {
	m := newTestManager(t)
	session := m.RegisterNewSession(core.DefaultSessionConfig(), map[string][]int{"layer0": {2, 2}})

	cancelled := &atomic.Bool{}
	taskID, err := m.AddPrefillTask(context.Background(), session, core.ExecutorInputs{IDs: []int{1}}, core.PrefillParams{}, nil, cancelled, nil)
	require.NoError(t, err)

	require.NoError(t, m.CancelAllTasksInSession(session))
	resp, err := m.WaitUntilDone(taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, resp.TaskState)
}

func TestCloneSessionProducesIndependentContext(t *testing.T) {
	m := newTestManager(t)
	session := m.RegisterNewSession(core.DefaultSessionConfig(), map[string][]int{"layer0": {2, 2}})

	prefillID, err := m.AddPrefillTask(context.Background(), session, core.ExecutorInputs{IDs: []int{1, 2}}, core.PrefillParams{}, nil, nil, nil)
	require.NoError(t, err)
	_, err = m.WaitUntilDone(prefillID, 2*time.Second)
	require.NoError(t, err)

	clonedID, cloneTaskID, err := m.AddCloneSessionTask(session, []manager.TaskID{prefillID}, nil, nil)
	require.NoError(t, err)
	_, err = m.WaitUntilDone(cloneTaskID, 2*time.Second)
	require.NoError(t, err)

	orig, err := m.GetSessionInfo(session)
	require.NoError(t, err)
	clone, err := m.GetSessionInfo(clonedID)
	require.NoError(t, err)
	assert.Equal(t, len(orig.Context.ProcessedTokens), len(clone.Context.ProcessedTokens))
	assert.NotSame(t, orig.Context, clone.Context)
}

func TestWaitUntilSessionDoneCoversAllActiveTasks(t *testing.T) {
	m := newTestManager(t)
	session := m.RegisterNewSession(core.DefaultSessionConfig(), map[string][]int{"layer0": {2, 2}})

	_, err := m.AddPrefillTask(context.Background(), session, core.ExecutorInputs{IDs: []int{1}}, core.PrefillParams{}, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.WaitUntilSessionDone(session, 2*time.Second))
}

func TestGetSessionInfoUnknownSession(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetSessionInfo(manager.SessionID(123))
	assert.Error(t, err)
}

func TestAdmissionLimitRejectsBurstBeyondCapacity(t *testing.T) {
	runner := core.NewStubRunner(16)
	settings := core.ExecutorSettings{
		Backend:           core.BackendCPU,
		PrefillChunkSizes: []int{8},
		Mask:              core.MaskCausal,
		MaxNumTokens:      128,
	}
	exec := core.NewExecutor(runner, settings, map[string][]int{"layer0": {2, 2}}, 1)
	m := manager.New(exec, manager.WithAdmissionLimit(1, 1))
	t.Cleanup(m.Close)

	session := m.RegisterNewSession(core.DefaultSessionConfig(), map[string][]int{"layer0": {2, 2}})

	_, err := m.AddPrefillTask(context.Background(), session, core.ExecutorInputs{IDs: []int{1}}, core.PrefillParams{}, nil, nil, nil)
	require.NoError(t, err)

	_, err = m.AddPrefillTask(context.Background(), session, core.ExecutorInputs{IDs: []int{2}}, core.PrefillParams{}, nil, nil, nil)
	require.Error(t, err)

	stats := m.AdmissionStats()
	assert.Equal(t, 1, stats.Throttled)
}
