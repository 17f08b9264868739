package core

import (
	"context"

	lerrors "github.com/tom-google/litertlm-go/litert/errors"
)

// ModelRunner is the external collaborator spec.md treats as out of scope:
// "given inputs, fill KV cache and produce logits". A hardware-specific
// compiled-model backend implements this; the executor only ever calls
// through the interface.
type ModelRunner interface {
	// RunGraph executes one forward pass (one prefill chunk or one decode
	// step) against the given KV-cache input/output buffer sets and
	// returns logits of shape [batch, vocab_size]. Image/audio embeddings
	// are already spliced into in.ImageEmbeddings/in.AudioEmbeddings by the
	// caller; RunGraph only needs to consume in.IDs/Positions/Mask plus
	// those splice tensors.
	RunGraph(ctx context.Context, in ExecutorInputs, kvIn, kvOut map[string]Tensor) (Tensor, error)
	VocabSize() int
	BackendName() string
}

// Executor runs prefill and decode against the compiled model, owning
// KV-cache tensors and (optionally) an internal sampler (spec.md §4.1).
type Executor struct {
	runner   ModelRunner
	settings ExecutorSettings

	ctx         *ProcessedContext
	currentStep int

	sampler    Sampler
	constraint Constraint
	detectors  []*StopTokenDetector // one per candidate

	decodeSamplerParams SamplerParams
	numCandidates       int
}

// NewExecutor builds an Executor bound to runner, with the given static
// settings and an initially empty KVCache of the given per-layer shapes.
func NewExecutor(runner ModelRunner, settings ExecutorSettings, layerShapes map[string][]int, numCandidates int) *Executor {
	if numCandidates < 1 {
		numCandidates = 1
	}
	return &Executor{
		runner:        runner,
		settings:      settings,
		ctx:           NewProcessedContext(NewKVCache(layerShapes)),
		sampler:       NewDefaultSampler(0),
		constraint:    NoConstraint{},
		numCandidates: numCandidates,
	}
}

// VocabSize returns the model's vocabulary size.
func (e *Executor) VocabSize() int { return e.runner.VocabSize() }

// BackendName returns the compiled-model backend's name.
func (e *Executor) BackendName() string { return e.runner.BackendName() }

// ExecutorSettings returns the static settings the executor was built with.
func (e *Executor) ExecutorSettings() ExecutorSettings { return e.settings }

// CurrentStep returns the number of tokens the executor has advanced
// through (prefill input tokens + decoded tokens).
func (e *Executor) CurrentStep() int { return e.currentStep }

// SetSampler installs an external sampler (e.g. a handles-input GPU
// sampler). Pass nil to revert to the default CPU sampler.
func (e *Executor) SetSampler(s Sampler) {
	if s == nil {
		s = NewDefaultSampler(0)
	}
	e.sampler = s
}

// SetConstraint installs (or clears, with nil) a constrained-decoding
// Constraint used by subsequent Decode calls.
func (e *Executor) SetConstraint(c Constraint) {
	if c == nil {
		c = NoConstraint{}
	}
	e.constraint = c
}

// SetStopTokenIDs (re)configures the per-candidate stop detectors.
func (e *Executor) SetStopTokenIDs(sequences [][]int) {
	e.detectors = make([]*StopTokenDetector, e.numCandidates)
	for i := range e.detectors {
		e.detectors[i] = NewStopTokenDetector(sequences)
	}
}

// Reset clears KV cache, pending token, and committed tokens; current_step
// goes back to 0 (spec.md §4.1).
func (e *Executor) Reset() {
	e.ctx.Reset()
	e.currentStep = 0
	e.constraint.Reset()
	for _, d := range e.detectors {
		d.Reset()
	}
}

// SetCurrentStep rolls back processed tokens so that exactly n remain
// committed (spec.md §4.1, used for cancellation recovery).
func (e *Executor) SetCurrentStep(n int) error {
	if n < 0 || n > len(e.ctx.ProcessedTokens) {
		return lerrors.Invalidf("set_current_step(%d) out of range [0,%d]", n, len(e.ctx.ProcessedTokens))
	}
	e.ctx.RollbackTo(n)
	e.currentStep = n
	return nil
}

// Context returns the executor's bound ProcessedContext, for session-level
// inspection/cloning.
func (e *Executor) Context() *ProcessedContext { return e.ctx }

// BindContext swaps in a different ProcessedContext (used by the execution
// manager when loading a session's context before running its task,
// spec.md §4.2: "Before starting T, the manager loads T's session's
// ContextHandler into the executor").
func (e *Executor) BindContext(ctx *ProcessedContext, currentStep int) {
	e.ctx = ctx
	e.currentStep = currentStep
}

// Prefill runs the static-shape chunked prefill algorithm from spec.md
// §4.1. inputs must already have text tokenized and image/audio encoded to
// embeddings (that is the Session layer's job); Prefill only assembles
// chunks, fills positions/mask, splices embeddings, and invokes the model.
func (e *Executor) Prefill(ctx context.Context, in ExecutorInputs, params PrefillParams) (PrefillResult, error) {
	n := len(in.IDs)
	if n == 0 {
		return PrefillResult{}, lerrors.Invalidf("Input is empty")
	}
	if e.currentStep+n > e.settings.MaxNumTokens {
		return PrefillResult{}, lerrors.Invalidf(
			"prefill sequence length %d exceeds remaining context (step=%d, max=%d)",
			n, e.currentStep, e.settings.MaxNumTokens)
	}
	e.ctx.LoraID = params.LoraID

	chunkSizes := e.settings.PrefillChunkSizes
	if len(chunkSizes) == 0 {
		chunkSizes = []int{n}
	}
	chunk := pickChunkSize(chunkSizes, n)

	offset := 0
	var lastRealToken int
	for offset < n {
		end := offset + chunk
		if end > n {
			end = n
		}
		ids := make([]int, chunk)
		copy(ids, in.IDs[offset:end])
		for i := end - offset; i < chunk; i++ {
			ids[i] = e.settings.PadTokenID
		}
		positions := make([]int, chunk)
		for i := range positions {
			positions[i] = e.currentStep + i
		}

		chunkIn := ExecutorInputs{
			IDs:             ids,
			Positions:       positions,
			Mask:            buildMask(e.settings.Mask, chunk),
			ImageEmbeddings: in.ImageEmbeddings,
			AudioEmbeddings: in.AudioEmbeddings,
		}
		if len(in.SpliceMask) > 0 {
			chunkIn.SpliceMask = sliceOrPad(in.SpliceMask, offset, end, chunk)
			chunkIn.SpliceKind = sliceKindOrPad(in.SpliceKind, offset, end, chunk)
		}

		if _, err := e.runner.RunGraph(ctx, chunkIn, e.ctx.Cache.Input(), e.ctx.Cache.Output()); err != nil {
			return PrefillResult{}, lerrors.Wrap(lerrors.KindInternal, "prefill backend call failed", err)
		}
		e.ctx.Cache.Swap()

		for i := offset; i < end; i++ {
			e.ctx.CommitToken(in.IDs[i], e.currentStep+(i-offset))
			lastRealToken = in.IDs[i]
		}
		e.currentStep += end - offset
		offset = end
	}

	e.ctx.SetPending(lastRealToken)
	return PrefillResult{PendingTokenID: lastRealToken}, nil
}

func pickChunkSize(sizes []int, remaining int) int {
	for _, s := range sizes {
		if s >= remaining {
			return s
		}
	}
	return sizes[len(sizes)-1]
}

func sliceOrPad(mask []int, start, end, chunk int) []int {
	out := make([]int, chunk)
	copy(out, mask[start:end])
	return out
}

func sliceKindOrPad(kinds []InputKind, start, end, chunk int) []InputKind {
	out := make([]InputKind, chunk)
	copy(out, kinds[start:end])
	return out
}

func buildMask(kind MaskKind, length int) Tensor {
	// Causal/local/sliding masking rules are a backend concern in the real
	// system; the core only needs a placeholder tensor of the right shape
	// to pass through ModelRunner, which owns the actual masking logic.
	return NewTensor(length, length)
}

// decodeStep runs one decode step shared by Decode and DecodeStream: builds
// input tensors (from the sampler if it handles input, otherwise from the
// executor's own pending/committed token), invokes the model, applies the
// constraint bitmap, samples, updates stop detectors and the constraint,
// and commits the sampled ids.
func (e *Executor) decodeStep(ctx context.Context, params SamplerParams, constraint Constraint) ([]int, []float64, error) {
	var ids []int
	var positions []int
	if e.sampler.HandlesInput() {
		// The sampler fills ids/positions/mask from the previous step's
		// output itself (spec.md §4.1 decode algorithm step 1); the core
		// still needs a placeholder request to the backend.
		ids = make([]int, e.numCandidates)
		positions = make([]int, e.numCandidates)
		for i := range positions {
			positions[i] = e.currentStep
		}
	} else {
		tok := e.ctx.PendingTokenID
		if tok < 0 && len(e.ctx.ProcessedTokens) > 0 {
			tok = e.ctx.ProcessedTokens[len(e.ctx.ProcessedTokens)-1].TokenID
		}
		ids = repeatInt(tok, e.numCandidates)
		positions = repeatInt(e.currentStep, e.numCandidates)
	}

	in := ExecutorInputs{IDs: ids, Positions: positions, Mask: buildMask(e.settings.Mask, 1)}
	logits, err := e.runner.RunGraph(ctx, in, e.ctx.Cache.Input(), e.ctx.Cache.Output())
	if err != nil {
		return nil, nil, lerrors.Wrap(lerrors.KindInternal, "decode backend call failed", err)
	}
	e.ctx.Cache.Swap()

	if constraint != nil {
		mask := constraint.AllowedMask(e.VocabSize())
		applyConstraintMask(logits, mask)
	}

	sampledIDs, logProbs, err := e.sampler.SampleToIDAndScore(logits, params)
	if err != nil {
		return nil, nil, err
	}

	for i, id := range sampledIDs {
		if i < len(e.detectors) {
			e.detectors[i].Push(id)
		}
		if constraint != nil {
			constraint.Advance(id)
		}
	}
	e.currentStep++
	for _, id := range sampledIDs {
		e.ctx.CommitToken(id, e.currentStep)
	}
	return sampledIDs, logProbs, nil
}

func applyConstraintMask(logits Tensor, allowed []bool) {
	if len(allowed) == 0 || len(logits.Shape) != 2 {
		return
	}
	batch, vocab := logits.Shape[0], logits.Shape[1]
	for b := 0; b < batch; b++ {
		row := logits.Data[b*vocab : (b+1)*vocab]
		for i := range row {
			if i < len(allowed) && !allowed[i] {
				row[i] = float32(negInf)
			}
		}
	}
}

const negInf = -1e30

func repeatInt(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// stopped reports whether candidate i should stop, per spec.md §4.1 "Stop
// conditions".
func (e *Executor) stopped(i int, constraint Constraint, maxOutputTokens, decodedCount int, cancelled bool) TaskState {
	switch {
	case cancelled:
		return TaskCancelled
	case i < len(e.detectors) && e.detectors[i].Matched():
		return TaskDone
	case constraint != nil && constraint.IsEnded():
		return TaskDone
	case e.currentStep >= e.settings.MaxNumTokens:
		return TaskMaxNumTokensReached
	case decodedCount >= maxOutputTokens:
		return TaskMaxNumTokensReached
	default:
		return TaskProcessing
	}
}

// Decode runs decode steps until every candidate stops, and returns the
// aggregated Responses (spec.md §4.1 "decode(output_logits)" / "Decode
// loop").
func (e *Executor) Decode(ctx context.Context, cfg DecodeConfig, cancelled func() bool) (Responses, error) {
	maxOutputTokens := e.settings.MaxNumTokens - e.currentStep
	if cfg.MaxOutputTokens != nil {
		maxOutputTokens = *cfg.MaxOutputTokens
	}
	constraint := cfg.Constraint
	if constraint == nil {
		constraint = e.constraint
	}
	// A caller-supplied cfg.Constraint always wins over the session-level
	// constraint set via SetConstraint (spec.md §9 Open Questions).

	texts := make([]string, e.numCandidates)
	scores := make([]float64, e.numCandidates)
	stopped := make([]bool, e.numCandidates)
	finalState := TaskProcessing
	decoded := 0

	for {
		if cancelled != nil && cancelled() {
			return Responses{TaskState: TaskCancelled, Texts: texts, Scores: scores}, nil
		}
		ids, logProbs, err := e.decodeStep(ctx, e.samplerParamsFor(), constraint)
		if err != nil {
			return Responses{}, err
		}
		decoded++
		allStopped := true
		for i, id := range ids {
			if stopped[i] {
				continue
			}
			texts[i] += decodedTokenPlaceholder(id)
			scores[i] += logProbs[i]
			state := e.stopped(i, constraint, maxOutputTokens, decoded, cancelled != nil && cancelled())
			if state != TaskProcessing {
				stopped[i] = true
				finalState = state
			} else {
				allStopped = false
			}
		}
		if allStopped {
			break
		}
	}
	if finalState == TaskProcessing {
		finalState = TaskDone
	}
	return Responses{TaskState: finalState, Texts: texts, Scores: scores}, nil
}

// samplerParamsFor returns the configured SamplerParams for decode; callers
// that need per-session params store them on Executor via SetSamplerParams.
func (e *Executor) samplerParamsFor() SamplerParams { return e.decodeSamplerParams }

// SetSamplerParams configures the SamplerParams used by Decode/DecodeStream.
func (e *Executor) SetSamplerParams(p SamplerParams) { e.decodeSamplerParams = p }

// decodedTokenPlaceholder stands in for detokenization, which spec.md
// treats as an external collaborator (text<->ids). Callers that need real
// text should detokenize ids themselves; this keeps the core executor
// independent of any concrete tokenizer.
func decodedTokenPlaceholder(id int) string { return "" }

// DecodeStream streams partial text back through callback after every step
// that produced non-empty text (spec.md §4.1 "Streaming decode"), then a
// final terminal callback.
// detok converts one token id to its (possibly empty) textual fragment;
// the session layer supplies this from its tokenizer.
func (e *Executor) DecodeStream(ctx context.Context, cfg DecodeConfig, cancelled func() bool, detok func(id int) string, callback func(Responses)) error {
	maxOutputTokens := e.settings.MaxNumTokens - e.currentStep
	if cfg.MaxOutputTokens != nil {
		maxOutputTokens = *cfg.MaxOutputTokens
	}
	constraint := cfg.Constraint
	if constraint == nil {
		constraint = e.constraint
	}

	texts := make([]string, e.numCandidates)
	scores := make([]float64, e.numCandidates)
	stopped := make([]bool, e.numCandidates)
	finalState := TaskProcessing
	decoded := 0

	for {
		if cancelled != nil && cancelled() {
			callback(Responses{TaskState: TaskCancelled, Texts: texts, Scores: scores})
			return nil
		}
		ids, logProbs, err := e.decodeStep(ctx, e.decodeSamplerParams, constraint)
		if err != nil {
			return err
		}
		decoded++
		step := make([]string, e.numCandidates)
		allStopped := true
		for i, id := range ids {
			if stopped[i] {
				continue
			}
			frag := detok(id)
			step[i] = frag
			texts[i] += frag
			scores[i] += logProbs[i]
			state := e.stopped(i, constraint, maxOutputTokens, decoded, false)
			if state != TaskProcessing {
				stopped[i] = true
				finalState = state
			} else {
				allStopped = false
			}
		}
		hasText := false
		for _, f := range step {
			if f != "" {
				hasText = true
				break
			}
		}
		if hasText {
			callback(Responses{TaskState: TaskProcessing, Texts: step})
		}
		if allStopped {
			break
		}
	}
	if finalState == TaskProcessing {
		finalState = TaskDone
	}
	callback(Responses{TaskState: finalState, Texts: texts, Scores: scores})
	return nil
}

// DecodeLogits drives a single forward pass with explicit inputs, used by
// text scoring (spec.md §4.1 "decode_logits(inputs)").
func (e *Executor) DecodeLogits(ctx context.Context, in ExecutorInputs) (Tensor, error) {
	logits, err := e.runner.RunGraph(ctx, in, e.ctx.Cache.Input(), e.ctx.Cache.Output())
	if err != nil {
		return Tensor{}, lerrors.Wrap(lerrors.KindInternal, "decode_logits backend call failed", err)
	}
	e.ctx.Cache.Swap()
	return logits, nil
}
