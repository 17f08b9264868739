package manager

import (
	"context"
	"sync/atomic"

	"github.com/tom-google/litertlm-go/litert/core"
	lerrors "github.com/tom-google/litertlm-go/litert/errors"
)

// bindSession loads session's ProcessedContext and current step into the
// shared executor before running one of its tasks (spec.md §4.2: "Before
// starting T, the manager loads T's session's ContextHandler into the
// executor"), and installs its sampler/constraint/stop sequences.
func (m *ExecutionManager) bindSession(id SessionID) (*SessionInfo, error) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, lerrors.NotFoundf("session %d not found", id)
	}
	m.executor.BindContext(session.Context, session.CurrentStep)
	if session.Sampler != nil {
		m.executor.SetSampler(session.Sampler)
	}
	m.executor.SetConstraint(session.Constraint)
	m.executor.SetSamplerParams(session.Config.Sampler)
	m.executor.SetStopTokenIDs(session.Config.StopTokenIDs)
	return session, nil
}

func (m *ExecutionManager) unbindSession(id SessionID) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	session.CurrentStep = m.executor.CurrentStep()
}

// AddPrefillTask queues a prefill of in against session (spec.md §4.2
// "AddPrefillTask").
func (m *ExecutionManager) AddPrefillTask(ctx context.Context, sessionID SessionID, in core.ExecutorInputs, params core.PrefillParams, dep []TaskID, cancelled *atomic.Bool, callback callbackFunc) (TaskID, error) {
	run := func() (core.Responses, error) {
		session, err := m.bindSession(sessionID)
		if err != nil {
			return core.Responses{}, err
		}
		defer m.unbindSession(sessionID)

		res, err := m.executor.Prefill(ctx, in, params)
		if err != nil {
			return core.Responses{}, err
		}
		session.LastPrefillTokenID = res.PendingTokenID
		return core.Responses{TaskState: core.TaskDone}, nil
	}
	return m.QueueTask(sessionID, dep, cancelled, run, callback)
}

// AddDecodeTask queues a decode loop against session (spec.md §4.2
// "AddDecodeTask"). When stream is non-nil, partial Responses are
// delivered to it as decoding progresses, in addition to the final
// callback.
func (m *ExecutionManager) AddDecodeTask(ctx context.Context, sessionID SessionID, cfg core.DecodeConfig, detok func(int) string, stream func(core.Responses), dep []TaskID, cancelled *atomic.Bool, callback callbackFunc) (TaskID, error) {
	run := func() (core.Responses, error) {
		session, err := m.bindSession(sessionID)
		_ = session
		if err != nil {
			return core.Responses{}, err
		}
		defer m.unbindSession(sessionID)

		if cfg.MaxOutputTokens == nil && session.Config.MaxOutputTokens > 0 {
			n := session.Config.MaxOutputTokens
			cfg.MaxOutputTokens = &n
		}

		isCancelled := func() bool { return cancelled != nil && cancelled.Load() }

		if stream == nil && detok == nil {
			return m.executor.Decode(ctx, cfg, isCancelled)
		}

		var final core.Responses
		err = m.executor.DecodeStream(ctx, cfg, isCancelled, detok, func(r core.Responses) {
			final = r
			if stream != nil {
				stream(r)
			}
		})
		return final, err
	}
	return m.QueueTask(sessionID, dep, cancelled, run, callback)
}

// AddCloneSessionTask queues a deep copy of an existing session's
// ProcessedContext/StopTokenDetector into a newly registered session, and
// returns the new SessionID once the clone task is scheduled (spec.md
// §4.2 "AddCloneSessionTask", §4.3 Session.Clone).
func (m *ExecutionManager) AddCloneSessionTask(sourceID SessionID, dep []TaskID, cancelled *atomic.Bool, callback callbackFunc) (SessionID, TaskID, error) {
	m.mu.Lock()
	src, ok := m.sessions[sourceID]
	m.mu.Unlock()
	if !ok {
		return 0, 0, lerrors.NotFoundf("session %d not found", sourceID)
	}

	m.mu.Lock()
	m.nextSession++
	newID := SessionID(m.nextSession)
	m.mu.Unlock()

	run := func() (core.Responses, error) {
		m.mu.Lock()
		clonedCtx := src.Context.Clone()
		clonedDetector := src.StopDetector.Clone()
		cfg := src.Config
		sampler := src.Sampler
		constraint := src.Constraint
		step := src.CurrentStep
		m.mu.Unlock()

		m.mu.Lock()
		m.sessions[newID] = &SessionInfo{
			Config:       cfg,
			Context:      clonedCtx,
			Sampler:      sampler,
			Constraint:   constraint,
			StopDetector: clonedDetector,
			CurrentStep:  step,
			ActiveTasks:  make(map[TaskID]struct{}),
		}
		m.mu.Unlock()
		return core.Responses{TaskState: core.TaskDone}, nil
	}
	taskID, err := m.QueueTask(sourceID, dep, cancelled, run, callback)
	return newID, taskID, err
}

// AddTextScoringTask queues a single-forward-pass scoring call against
// session without mutating its committed prefix (spec.md §4.2
// "AddTextScoringTask").
func (m *ExecutionManager) AddTextScoringTask(ctx context.Context, sessionID SessionID, in core.ExecutorInputs, dep []TaskID, cancelled *atomic.Bool, callback callbackFunc) (TaskID, error) {
	run := func() (core.Responses, error) {
		_, err := m.bindSession(sessionID)
		if err != nil {
			return core.Responses{}, err
		}
		defer m.unbindSession(sessionID)

		logits, err := m.executor.DecodeLogits(ctx, in)
		if err != nil {
			return core.Responses{}, err
		}
		return core.Responses{TaskState: core.TaskDone, Scores: scoreFromLogits(logits)}, nil
	}
	return m.QueueTask(sessionID, dep, cancelled, run, callback)
}

func scoreFromLogits(t core.Tensor) []float64 {
	if len(t.Shape) != 2 {
		return nil
	}
	batch, vocab := t.Shape[0], t.Shape[1]
	scores := make([]float64, batch)
	for b := 0; b < batch; b++ {
		row := t.Data[b*vocab : (b+1)*vocab]
		var max float32
		for i, v := range row {
			if i == 0 || v > max {
				max = v
			}
		}
		scores[b] = float64(max)
	}
	return scores
}
