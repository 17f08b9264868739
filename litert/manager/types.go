// Package manager implements the L2 execution manager: a DAG-scheduled task
// runner over a single shared executor, grounded on
// original_source/runtime/framework/resource_management/execution_manager.h.
package manager

import (
	"sync"
	"sync/atomic"

	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/telemetry"
)

// SessionID identifies a registered session.
type SessionID int

// TaskID identifies a queued task.
type TaskID int

// SessionInfo is everything the manager tracks about one session (mirrors
// execution_manager.h's SessionInfo struct).
type SessionInfo struct {
	Config             core.SessionConfig
	Context            *core.ProcessedContext
	Sampler            core.Sampler
	LastPrefillTokenID int
	StopDetector       *core.StopTokenDetector
	Constraint         core.Constraint
	CurrentStep        int
	BenchmarkInfo      *telemetry.BenchmarkInfo

	// ActiveTasks is the set of task ids currently queued or running for
	// this session, used by CancelAllTasksInSession.
	ActiveTasks map[TaskID]struct{}
}

// taskFunc is the unit of work a task runs on the shared executor.
type taskFunc func() (core.Responses, error)

// callbackFunc is notified with a task's outcome once it finishes.
type callbackFunc func(core.Responses, error)

// taskInfo is everything the manager tracks about one queued/running task
// (mirrors execution_manager.h's TaskInfo struct).
type taskInfo struct {
	sessionID SessionID
	run       taskFunc
	callback  callbackFunc

	mu            sync.Mutex
	state         core.TaskState
	dependentOn   map[TaskID]struct{} // tasks that must finish before this starts
	following     map[TaskID]struct{} // tasks waiting on this one
	cancelled     *atomic.Bool
	done          chan struct{}
	result        core.Responses
	err           error
}

func newTaskInfo(sessionID SessionID, dep map[TaskID]struct{}, run taskFunc, callback callbackFunc, cancelled *atomic.Bool) *taskInfo {
	if cancelled == nil {
		cancelled = &atomic.Bool{}
	}
	return &taskInfo{
		sessionID:   sessionID,
		run:         run,
		callback:    callback,
		state:       core.TaskCreated,
		dependentOn: dep,
		following:   make(map[TaskID]struct{}),
		cancelled:   cancelled,
		done:        make(chan struct{}),
	}
}

func (t *taskInfo) setState(s core.TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *taskInfo) getState() core.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
