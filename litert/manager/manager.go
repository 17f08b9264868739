package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tom-google/litertlm-go/litert/core"
	lerrors "github.com/tom-google/litertlm-go/litert/errors"
	"github.com/tom-google/litertlm-go/litert/telemetry"
)

// ExecutionManager schedules prefill/decode/clone/scoring tasks across
// sessions onto a single shared core.Executor, serializing all backend
// calls onto one worker goroutine while dispatching callbacks on another
// (spec.md §4.2: "one worker goroutine... a separate callback-dispatch
// goroutine").
type ExecutionManager struct {
	executor *core.Executor

	mu           sync.Mutex
	sessions     map[SessionID]*SessionInfo
	tasks        map[TaskID]*taskInfo
	nextSession  int
	nextTask     int
	readyQueue   chan TaskID
	callbackWork chan func()

	closeOnce sync.Once
	closed    chan struct{}

	admission *admissionLimiter
}

// New builds an ExecutionManager bound to executor. The manager owns the
// executor's context thereafter: callers must not use executor directly
// once tasks are queued against it. Options (e.g. WithAdmissionLimit)
// tune scheduling behavior.
func New(executor *core.Executor, opts ...Option) *ExecutionManager {
	m := &ExecutionManager{
		executor:     executor,
		sessions:     make(map[SessionID]*SessionInfo),
		tasks:        make(map[TaskID]*taskInfo),
		readyQueue:   make(chan TaskID, 256),
		callbackWork: make(chan func(), 256),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.runExecutionLoop()
	go m.runCallbackLoop()
	return m
}

func (m *ExecutionManager) runExecutionLoop() {
	for {
		select {
		case id := <-m.readyQueue:
			m.startTask(id)
		case <-m.closed:
			return
		}
	}
}

func (m *ExecutionManager) runCallbackLoop() {
	for {
		select {
		case fn := <-m.callbackWork:
			fn()
		case <-m.closed:
			return
		}
	}
}

// Close stops both worker goroutines. Queued-but-not-started tasks are
// abandoned; in-flight work already dispatched to the execution goroutine
// still completes.
func (m *ExecutionManager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// RegisterNewSession allocates a fresh SessionID with its own
// ProcessedContext (spec.md §4.2 "RegisterNewSession").
func (m *ExecutionManager) RegisterNewSession(config core.SessionConfig, layerShapes map[string][]int) SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	id := SessionID(m.nextSession)
	m.sessions[id] = &SessionInfo{
		Config:       config,
		Context:      core.NewProcessedContext(core.NewKVCache(layerShapes)),
		StopDetector: core.NewStopTokenDetector(config.StopTokenIDs),
		ActiveTasks:  make(map[TaskID]struct{}),
	}
	return id
}

// GetSessionInfo returns a snapshot copy of the session's info.
func (m *ExecutionManager) GetSessionInfo(id SessionID) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, lerrors.NotFoundf("session %d not found", id)
	}
	return *info, nil
}

// GetMutableBenchmarkInfo returns the session's BenchmarkInfo for direct
// recording by callers (spec.md §4.2 "GetMutableBenchmarkInfo").
func (m *ExecutionManager) GetMutableBenchmarkInfo(id SessionID) (*telemetry.BenchmarkInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, lerrors.NotFoundf("session %d not found", id)
	}
	return session.BenchmarkInfo, nil
}

// GetNewTaskID allocates a fresh TaskID without queueing any work.
func (m *ExecutionManager) GetNewTaskID() TaskID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTask++
	return TaskID(m.nextTask)
}

// CancelAllTasksInSession flips the shared cancellation flag for every
// active task of the session; running tasks observe it at their next
// decode step, queued tasks are skipped entirely when they reach the front
// of the queue (spec.md §4.2 "cooperative cancellation via atomic flags").
func (m *ExecutionManager) CancelAllTasksInSession(id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return lerrors.NotFoundf("session %d not found", id)
	}
	for taskID := range session.ActiveTasks {
		if t, ok := m.tasks[taskID]; ok {
			t.cancelled.Store(true)
		}
	}
	return nil
}

// QueueTask registers a task with dependencies dep and, once all
// dependencies are already finished, enqueues it for execution
// immediately; otherwise it waits until FinishTask on the last dependency
// releases it (spec.md §4.2 "DAG-scheduled task runner").
func (m *ExecutionManager) QueueTask(sessionID SessionID, dep []TaskID, cancelled *atomic.Bool, run taskFunc, callback callbackFunc) (TaskID, error) {
	if m.admission != nil && !m.admission.Allow() {
		return 0, lerrors.ResourceExhaustedf("admission rate limit exceeded, retry the task later")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return 0, lerrors.NotFoundf("session %d not found", sessionID)
	}

	m.nextTask++
	id := TaskID(m.nextTask)

	pending := make(map[TaskID]struct{})
	for _, d := range dep {
		if dt, ok := m.tasks[d]; ok && dt.getState() != core.TaskDone && dt.getState() != core.TaskCancelled && dt.getState() != core.TaskMaxNumTokensReached {
			pending[d] = struct{}{}
			dt.mu.Lock()
			dt.following[id] = struct{}{}
			dt.mu.Unlock()
		}
	}

	t := newTaskInfo(sessionID, pending, run, callback, cancelled)
	m.tasks[id] = t
	session.ActiveTasks[id] = struct{}{}

	if len(pending) == 0 {
		t.setState(core.TaskProcessing)
		m.readyQueue <- id
	}
	return id, nil
}

// startTask runs exactly one task to completion on the execution
// goroutine, then dispatches its callback and unblocks any following
// tasks whose dependencies are now all satisfied.
func (m *ExecutionManager) startTask(id TaskID) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	t.setState(core.TaskProcessing)

	var result core.Responses
	var err error
	if t.cancelled != nil && t.cancelled.Load() {
		result = core.Responses{TaskState: core.TaskCancelled}
	} else {
		result, err = t.run()
	}

	m.finishTask(id, result, err)
}

func (m *ExecutionManager) finishTask(id TaskID, result core.Responses, err error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	t.mu.Lock()
	t.result, t.err = result, err
	if err != nil {
		t.state = core.TaskCancelled
	} else {
		t.state = result.TaskState
	}
	following := make([]TaskID, 0, len(t.following))
	for f := range t.following {
		following = append(following, f)
	}
	t.mu.Unlock()
	close(t.done)

	if session, ok := m.sessions[t.sessionID]; ok {
		delete(session.ActiveTasks, id)
	}
	m.mu.Unlock()

	if t.callback != nil {
		cb, res, cbErr := t.callback, result, err
		m.callbackWork <- func() { cb(res, cbErr) }
	}

	for _, fid := range following {
		m.releaseIfReady(fid, id)
	}
}

func (m *ExecutionManager) releaseIfReady(id, finished TaskID) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	t.mu.Lock()
	delete(t.dependentOn, finished)
	ready := len(t.dependentOn) == 0
	t.mu.Unlock()
	m.mu.Unlock()

	if ready {
		m.readyQueue <- id
	}
}

// WaitUntilDone blocks until task id finishes or timeout elapses
// (spec.md §4.2). A non-positive timeout waits forever.
func (m *ExecutionManager) WaitUntilDone(id TaskID, timeout time.Duration) (core.Responses, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return core.Responses{}, lerrors.NotFoundf("task %d not found", id)
	}

	if timeout <= 0 {
		<-t.done
		return t.result, t.err
	}
	select {
	case <-t.done:
		return t.result, t.err
	case <-time.After(timeout):
		return core.Responses{}, lerrors.New(lerrors.KindDeadlineExceeded, "task wait timed out")
	}
}

// WaitUntilSessionDone blocks until every currently-active task of session
// finishes or timeout elapses.
func (m *ExecutionManager) WaitUntilSessionDone(id SessionID, timeout time.Duration) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return lerrors.NotFoundf("session %d not found", id)
	}
	ids := make([]TaskID, 0, len(session.ActiveTasks))
	for t := range session.ActiveTasks {
		ids = append(ids, t)
	}
	m.mu.Unlock()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for _, id := range ids {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return lerrors.New(lerrors.KindDeadlineExceeded, "session wait timed out")
			}
		}
		if _, err := m.WaitUntilDone(id, remaining); err != nil {
			return err
		}
	}
	return nil
}

// WaitUntilAllDone blocks until every task currently tracked by the manager
// finishes or timeout elapses.
func (m *ExecutionManager) WaitUntilAllDone(timeout time.Duration) error {
	m.mu.Lock()
	ids := make([]TaskID, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for _, id := range ids {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return lerrors.New(lerrors.KindDeadlineExceeded, "wait-all timed out")
			}
		}
		if _, err := m.WaitUntilDone(id, remaining); err != nil {
			return err
		}
	}
	return nil
}
