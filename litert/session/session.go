// Package session implements the L3 session: the per-interaction state
// machine (fresh -> prefilled -> decoded), grounded on
// original_source/runtime/core/session_basic.cc.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tom-google/litertlm-go/litert/core"
	lerrors "github.com/tom-google/litertlm-go/litert/errors"
	"github.com/tom-google/litertlm-go/litert/manager"
)

// State is the session's lifecycle position (session_basic.cc's
// SessionState enum: kFresh, kPrefilled, kDecoded).
type State int

const (
	StateFresh State = iota
	StatePrefilled
	StateDecoded
)

// ContentKind tells a Templater where in the conversation a Prefill call
// sits, so it knows which part of the chat template to apply
// (session_basic.cc's ContentType: kFirst, kMiddle, kLast, kNA).
type ContentKind int

const (
	ContentNone ContentKind = iota
	ContentFirst
	ContentMiddle
	ContentLast
)

// Templater applies a chat/prompt template to raw prompt segments. Session
// calls it once per RunPrefill/RunDecode if
// SessionConfig.ApplyPromptTemplateInSession is set.
type Templater interface {
	Apply(contents []core.InputData, kind ContentKind, isFirstTurn bool) ([]core.InputData, error)
}

// Preprocessor turns raw prompt segments (text needing tokenization,
// image/audio bytes needing encoding) into tokenized/encoded
// core.InputData, then flattens them into one core.ExecutorInputs
// (session_basic.cc's PreprocessContents + ProcessAndCombineContents).
type Preprocessor interface {
	Preprocess(ctx context.Context, contents []core.InputData) (core.ExecutorInputs, error)
}

// Session drives one interaction's prefill/decode cycle against a shared
// manager.ExecutionManager.
type Session struct {
	mgr       *manager.ExecutionManager
	id        manager.SessionID
	config    core.SessionConfig
	templater Templater
	pre       Preprocessor
	detok     func(id int) string

	state              State
	lastPrefillTokenID int
	cancelled          atomic.Bool

	defaultTimeout time.Duration
}

// New creates a Session bound to a freshly registered manager SessionID.
func New(mgr *manager.ExecutionManager, config core.SessionConfig, layerShapes map[string][]int, templater Templater, pre Preprocessor, detok func(int) string) *Session {
	id := mgr.RegisterNewSession(config, layerShapes)
	return &Session{
		mgr:            mgr,
		id:             id,
		config:         config,
		templater:      templater,
		pre:            pre,
		detok:          detok,
		state:          StateFresh,
		defaultTimeout: 5 * time.Minute,
	}
}

// ID returns the manager-assigned SessionID, e.g. to pass to
// manager.CancelAllTasksInSession from outside the Session.
func (s *Session) ID() manager.SessionID { return s.id }

// State returns the session's current lifecycle position.
func (s *Session) State() State { return s.state }

func (s *Session) contentKind(isFirstTurn bool) ContentKind {
	if !s.config.ApplyPromptTemplateInSession {
		return ContentNone
	}
	if isFirstTurn || s.state == StateDecoded {
		return ContentFirst
	}
	return ContentMiddle
}

func (s *Session) resetCancelled() {
	s.cancelled.Store(false)
}

// prepare applies the prompt template (if configured) and preprocesses the
// result into one flattened core.ExecutorInputs.
func (s *Session) prepare(ctx context.Context, contents []core.InputData, kind ContentKind, isFirstTurn bool) (core.ExecutorInputs, error) {
	prepped := contents
	if kind != ContentNone && s.templater != nil {
		var err error
		prepped, err = s.templater.Apply(contents, kind, isFirstTurn)
		if err != nil {
			return core.ExecutorInputs{}, err
		}
	}
	return s.pre.Preprocess(ctx, prepped)
}

// RunPrefill synchronously prefills contents (spec.md §4.3 "RunPrefill").
func (s *Session) RunPrefill(ctx context.Context, contents []core.InputData) error {
	if len(contents) == 0 {
		return lerrors.Invalidf("Input is empty")
	}
	s.resetCancelled()

	isFirstTurn := s.state == StateFresh
	inputs, err := s.prepare(ctx, contents, s.contentKind(isFirstTurn), isFirstTurn)
	if err != nil {
		return err
	}

	taskID, err := s.mgr.AddPrefillTask(ctx, s.id, inputs, core.PrefillParams{LoraID: s.config.LoraID}, nil, &s.cancelled, nil)
	if err != nil {
		return err
	}
	res, err := s.mgr.WaitUntilDone(taskID, s.defaultTimeout)
	if err != nil {
		return err
	}
	if res.TaskState == core.TaskCancelled {
		return lerrors.New(lerrors.KindCancelled, "session cancelled during prefill")
	}
	info, err := s.mgr.GetSessionInfo(s.id)
	if err == nil {
		s.lastPrefillTokenID = info.LastPrefillTokenID
	}
	s.state = StatePrefilled
	return nil
}

// RunPrefillAsync queues contents' prefill without blocking, invoking
// callback from the manager's callback goroutine once done.
func (s *Session) RunPrefillAsync(ctx context.Context, contents []core.InputData, callback func(error)) error {
	if len(contents) == 0 {
		return lerrors.Invalidf("Input is empty")
	}
	s.resetCancelled()

	isFirstTurn := s.state == StateFresh
	inputs, err := s.prepare(ctx, contents, s.contentKind(isFirstTurn), isFirstTurn)
	if err != nil {
		return err
	}

	_, err = s.mgr.AddPrefillTask(ctx, s.id, inputs, core.PrefillParams{LoraID: s.config.LoraID}, nil, &s.cancelled, func(r core.Responses, err error) {
		if err == nil {
			s.state = StatePrefilled
			if info, infoErr := s.mgr.GetSessionInfo(s.id); infoErr == nil {
				s.lastPrefillTokenID = info.LastPrefillTokenID
			}
		}
		if callback != nil {
			callback(err)
		}
	})
	return err
}

// flushTemplateTail runs one more (possibly empty) prefill so any
// template suffix due before decode (e.g. an assistant turn opener) is
// committed, matching session_basic.cc's DecodeInternal "one last prefill
// before decode".
func (s *Session) flushTemplateTail(ctx context.Context) error {
	if !s.config.ApplyPromptTemplateInSession || s.templater == nil {
		return nil
	}
	templated, err := s.templater.Apply([]core.InputData{core.NewTextRaw("")}, ContentLast, false)
	if err != nil {
		return err
	}
	if len(templated) == 0 {
		return nil
	}
	inputs, err := s.pre.Preprocess(ctx, templated)
	if err != nil {
		return err
	}
	if len(inputs.IDs) == 0 {
		return nil
	}
	taskID, err := s.mgr.AddPrefillTask(ctx, s.id, inputs, core.PrefillParams{LoraID: s.config.LoraID}, nil, &s.cancelled, nil)
	if err != nil {
		return err
	}
	_, err = s.mgr.WaitUntilDone(taskID, s.defaultTimeout)
	return err
}

// RunDecode synchronously decodes until a stop condition, using cfg (zero
// value uses session defaults).
func (s *Session) RunDecode(ctx context.Context, cfg core.DecodeConfig) (core.Responses, error) {
	if s.state != StatePrefilled {
		return core.Responses{}, lerrors.New(lerrors.KindFailedPrecondition, "session is not prefilled yet")
	}
	if err := s.flushTemplateTail(ctx); err != nil {
		return core.Responses{}, err
	}
	s.state = StateDecoded

	taskID, err := s.mgr.AddDecodeTask(ctx, s.id, cfg, nil, nil, nil, &s.cancelled, nil)
	if err != nil {
		return core.Responses{}, err
	}
	return s.mgr.WaitUntilDone(taskID, s.defaultTimeout)
}

// RunDecodeAsync streams decode progress to stream as it is produced, then
// invokes callback once with the final Responses.
func (s *Session) RunDecodeAsync(ctx context.Context, cfg core.DecodeConfig, stream func(core.Responses), callback func(core.Responses, error)) error {
	if s.state != StatePrefilled {
		return lerrors.New(lerrors.KindFailedPrecondition, "session is not prefilled yet")
	}
	if err := s.flushTemplateTail(ctx); err != nil {
		return err
	}
	s.state = StateDecoded

	_, err := s.mgr.AddDecodeTask(ctx, s.id, cfg, s.detok, stream, nil, &s.cancelled, callback)
	return err
}

// GenerateContent is RunPrefill immediately followed by RunDecode with
// default settings (session_basic.cc's GenerateContent).
func (s *Session) GenerateContent(ctx context.Context, contents []core.InputData) (core.Responses, error) {
	if err := s.RunPrefill(ctx, contents); err != nil {
		return core.Responses{}, err
	}
	return s.RunDecode(ctx, core.DecodeConfig{})
}

// GenerateContentStream is RunPrefillAsync chained into RunDecodeAsync,
// streaming partials to stream and the terminal Responses to callback.
func (s *Session) GenerateContentStream(ctx context.Context, contents []core.InputData, stream func(core.Responses), callback func(core.Responses, error)) error {
	return s.RunPrefillAsync(ctx, contents, func(err error) {
		if err != nil {
			if callback != nil {
				callback(core.Responses{}, err)
			}
			return
		}
		if decErr := s.RunDecodeAsync(ctx, core.DecodeConfig{}, stream, callback); decErr != nil && callback != nil {
			callback(core.Responses{}, decErr)
		}
	})
}

// RunTextScoring scores targetText against the current prefix without
// mutating committed state (spec.md §4.3 "RunTextScoring").
func (s *Session) RunTextScoring(ctx context.Context, targetText string) (core.Responses, error) {
	inputs, err := s.pre.Preprocess(ctx, []core.InputData{core.NewTextRaw(targetText)})
	if err != nil {
		return core.Responses{}, err
	}
	taskID, err := s.mgr.AddTextScoringTask(ctx, s.id, inputs, nil, &s.cancelled, nil)
	if err != nil {
		return core.Responses{}, err
	}
	return s.mgr.WaitUntilDone(taskID, s.defaultTimeout)
}

// Cancel sets the cooperative cancellation flag and asks the manager to
// cancel every active task of this session.
func (s *Session) Cancel() error {
	s.cancelled.Store(true)
	return s.mgr.CancelAllTasksInSession(s.id)
}

// Clone deep-copies this session's processed context into a brand-new
// session (spec.md §4.3 "Clone").
func (s *Session) Clone(ctx context.Context) (*Session, error) {
	cloneID, taskID, err := s.mgr.AddCloneSessionTask(s.id, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := s.mgr.WaitUntilDone(taskID, s.defaultTimeout); err != nil {
		return nil, err
	}
	return &Session{
		mgr:            s.mgr,
		id:             cloneID,
		config:         s.config,
		templater:      s.templater,
		pre:            s.pre,
		detok:          s.detok,
		state:          s.state,
		defaultTimeout: s.defaultTimeout,
	}, nil
}
