package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/manager"
	"github.com/tom-google/litertlm-go/litert/session"
)

// identityPreprocessor turns each InputText segment's raw text into one
// token id per rune (a stand-in tokenizer) and concatenates everything.
type identityPreprocessor struct{}

func (identityPreprocessor) Preprocess(ctx context.Context, contents []core.InputData) (core.ExecutorInputs, error) {
	var ids []int
	for _, c := range contents {
		for _, r := range c.TextRaw {
			ids = append(ids, int(r))
		}
	}
	if len(ids) == 0 {
		ids = []int{0}
	}
	return core.ExecutorInputs{IDs: ids}, nil
}

// noopTemplater returns contents unchanged, and nothing for ContentLast.
type noopTemplater struct{}

func (noopTemplater) Apply(contents []core.InputData, kind session.ContentKind, isFirstTurn bool) ([]core.InputData, error) {
	if kind == session.ContentLast {
		return nil, nil
	}
	return contents, nil
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	runner := core.NewStubRunner(256)
	runner.Script = []int{'.', '.'}
	settings := core.ExecutorSettings{
		Backend:           core.BackendCPU,
		PrefillChunkSizes: []int{16},
		Mask:              core.MaskCausal,
		MaxNumTokens:      1024,
	}
	exec := core.NewExecutor(runner, settings, map[string][]int{"layer0": {2, 2}}, 1)
	mgr := manager.New(exec)
	t.Cleanup(mgr.Close)

	cfg := core.DefaultSessionConfig()
	cfg.StopTokenIDs = [][]int{{'.', '.'}}
	cfg.ApplyPromptTemplateInSession = true

	detok := func(id int) string { return fmt.Sprintf("%c", rune(id)) }
	return session.New(mgr, cfg, map[string][]int{"layer0": {2, 2}}, noopTemplater{}, identityPreprocessor{}, detok)
}

func TestGenerateContentPrefillsThenDecodes(t *testing.T) {
	s := newTestSession(t)
	resp, err := s.GenerateContent(context.Background(), []core.InputData{core.NewTextRaw("hi")})
	require.NoError(t, err)
	assert.Equal(t, core.TaskDone, resp.TaskState)
	assert.Equal(t, session.StateDecoded, s.State())
}

func TestRunDecodeBeforePrefillFails(t *testing.T) {
	s := newTestSession(t)
	_, err := s.RunDecode(context.Background(), core.DecodeConfig{})
	assert.Error(t, err)
}

func TestRunPrefillRejectsEmptyContents(t *testing.T) {
	s := newTestSession(t)
	err := s.RunPrefill(context.Background(), nil)
	assert.Error(t, err)
}

func TestGenerateContentStreamDeliversCallback(t *testing.T) {
	s := newTestSession(t)
	done := make(chan core.Responses, 1)
	err := s.GenerateContentStream(context.Background(), []core.InputData{core.NewTextRaw("hi")}, func(core.Responses) {}, func(r core.Responses, err error) {
		require.NoError(t, err)
		done <- r
	})
	require.NoError(t, err)

	select {
	case r := <-done:
		assert.Equal(t, core.TaskDone, r.TaskState)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream callback")
	}
}

func TestCloneProducesIndependentSession(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.RunPrefill(context.Background(), []core.InputData{core.NewTextRaw("hi")}))

	clone, err := s.Clone(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), clone.ID())
	assert.Equal(t, s.State(), clone.State())
}

func TestCancelThenRunPrefillResetsCancelledFlag(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Cancel())
	require.NoError(t, s.RunPrefill(context.Background(), []core.InputData{core.NewTextRaw("hi")}))
	assert.Equal(t, session.StatePrefilled, s.State())
}
