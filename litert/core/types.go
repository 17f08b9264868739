// Package core implements the L1 executor: the prefill/decode loop over a
// compiled transformer model, KV-cache tensor management, sampling,
// constrained decoding and stop detection.
package core

import (
	"fmt"
)

// Tensor is a minimal dense tensor: a flat row-major buffer plus its shape.
// The real compiled-model backend owns a much richer tensor type; the
// runtime core only needs shape bookkeeping and element access, matching
// spec.md's framing of the model/backend as an external collaborator.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Len returns the total element count.
func (t Tensor) Len() int { return len(t.Data) }

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// BackendKind names the compiled-model backend, per spec.md §3 EngineSettings.
type BackendKind string

const (
	BackendCPU BackendKind = "cpu"
	BackendGPU BackendKind = "gpu"
	BackendNPU BackendKind = "npu"
)

// MaskKind names the attention masking rule used during prefill.
type MaskKind string

const (
	MaskCausal  MaskKind = "causal"
	MaskLocal   MaskKind = "local"
	MaskSliding MaskKind = "sliding"
)

// ModelAssets is an opaque handle to a packaged model bundle (weights,
// tokenizer, metadata). Created once by litert/bundle.Load and borrowed
// (never copied) by every executor built against it.
type ModelAssets struct {
	// Name identifies the bundle for diagnostics (e.g. file path or URL).
	Name string
	// StartTokenID is the BOS token id from LlmMetadata.
	StartTokenID int
	// StopTokenIDs lists full stop sequences from LlmMetadata.
	StopTokenIDs [][]int
	// JinjaPromptTemplate is the chat template source, if present.
	JinjaPromptTemplate string
	// LegacyUserTemplate/LegacyModelTemplate are used when no Jinja template
	// is present in the bundle (LlmMetadata.prompt_templates{user,model}).
	LegacyUserTemplate  string
	LegacyModelTemplate string
}

// ExecutorSettings is the static configuration an Executor is built with.
type ExecutorSettings struct {
	Backend          BackendKind
	PrefillChunkSizes []int // ascending, e.g. [32, 128, 512]
	PadTokenID        int
	Mask              MaskKind
	MaxNumTokens      int
}

// EngineSettings is the validated, immutable-after-construction engine
// configuration (spec.md §3).
type EngineSettings struct {
	Backend          BackendKind
	CacheDir         string
	MaxNumTokens     int
	VisionBackend    string
	AudioBackend     string
	BenchmarkEnabled bool
}

// Validate checks EngineSettings invariants.
func (s EngineSettings) Validate() error {
	switch s.Backend {
	case BackendCPU, BackendGPU, BackendNPU:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.MaxNumTokens <= 0 {
		return fmt.Errorf("max_num_tokens must be positive, got %d", s.MaxNumTokens)
	}
	return nil
}

// SamplerKind tags the SamplerParams union.
type SamplerKind int

const (
	SamplerUnspecified SamplerKind = iota
	SamplerGreedy
	SamplerTopK
	SamplerTopP
)

// SamplerParams is the tagged union `{greedy | top_k | top_p | unspecified}`
// from spec.md §3. Unspecified means the executor owns sampling.
type SamplerParams struct {
	Kind        SamplerKind
	K           int     // top_k, top_p
	P           float64 // top_p
	Temperature float64 // top_p
	Seed        int64   // top_p
}

// Greedy returns a greedy SamplerParams.
func Greedy() SamplerParams { return SamplerParams{Kind: SamplerGreedy} }

// TopK returns a top-k SamplerParams.
func TopK(k int) SamplerParams { return SamplerParams{Kind: SamplerTopK, K: k} }

// TopP returns a top-p SamplerParams.
func TopP(k int, p, temperature float64, seed int64) SamplerParams {
	return SamplerParams{Kind: SamplerTopP, K: k, P: p, Temperature: temperature, Seed: seed}
}

// TaskState is the decode-step state machine from spec.md §3 Responses.
type TaskState int

const (
	TaskCreated TaskState = iota
	TaskProcessing
	TaskDone
	TaskMaxNumTokensReached
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "Created"
	case TaskProcessing:
		return "Processing"
	case TaskDone:
		return "Done"
	case TaskMaxNumTokensReached:
		return "MaxNumTokensReached"
	case TaskCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Responses is one decode step's output (spec.md §3).
type Responses struct {
	TaskState    TaskState
	Texts        []string
	Scores       []float64
	TokenLengths []int // optional, len==0 when not requested
}

// SessionConfig is the per-session override set (spec.md §3).
type SessionConfig struct {
	MaxOutputTokens            int
	NumOutputCandidates        int
	StartTokenID               int
	StopTokenIDs               [][]int
	Sampler                    SamplerParams
	ApplyPromptTemplateInSession bool
	LoraID                     *int
}

// DefaultSessionConfig returns a SessionConfig with sane defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxOutputTokens:              256,
		NumOutputCandidates:          1,
		Sampler:                      Greedy(),
		ApplyPromptTemplateInSession: true,
	}
}

// Validate checks SessionConfig invariants against the owning EngineSettings
// and the session's current step (spec.md §3: num_output_candidates >= 1;
// max_output_tokens <= max_num_tokens - current_step).
func (c SessionConfig) Validate(engine EngineSettings, currentStep int) error {
	if c.NumOutputCandidates < 1 {
		return fmt.Errorf("num_output_candidates must be >= 1, got %d", c.NumOutputCandidates)
	}
	if c.MaxOutputTokens > engine.MaxNumTokens-currentStep {
		return fmt.Errorf("max_output_tokens %d exceeds remaining context %d",
			c.MaxOutputTokens, engine.MaxNumTokens-currentStep)
	}
	return nil
}

// DecodeConfig optionally overrides per-call decode behavior (spec.md §3).
type DecodeConfig struct {
	MaxOutputTokens *int
	Constraint      Constraint // may be nil
}

// InputKind tags the InputData union.
type InputKind int

const (
	InputText InputKind = iota
	InputImage
	InputAudio
	InputAudioEnd
)

// InputData is the tagged union over prompt segments from spec.md §3. A
// prompt is an ordered []InputData. Each modality carries either raw bytes
// (not yet preprocessed) or a pre-encoded tensor, modelled as the inner sum
// type spec.md §9 asks for.
type InputData struct {
	Kind InputKind

	// Text fields (InputText).
	TextRaw  string // set if not yet tokenized
	TextIDs  []int  // set if pre-tokenized
	hasIDs   bool

	// Image/Audio fields (InputImage, InputAudio).
	RawBytes     []byte  // set if not yet encoded
	Embedding    Tensor  // set if pre-encoded
	hasEmbedding bool
	MimeType     string
}

// NewTextRaw builds a Text segment from un-tokenized text.
func NewTextRaw(text string) InputData { return InputData{Kind: InputText, TextRaw: text} }

// NewTextIDs builds a Text segment from pre-tokenized ids.
func NewTextIDs(ids []int) InputData {
	return InputData{Kind: InputText, TextIDs: ids, hasIDs: true}
}

// IsPreTokenized reports whether this Text segment already carries ids.
func (d InputData) IsPreTokenized() bool { return d.hasIDs }

// NewImageRaw builds an Image segment from raw encoded bytes (e.g. PNG/JPEG).
func NewImageRaw(data []byte, mime string) InputData {
	return InputData{Kind: InputImage, RawBytes: data, MimeType: mime}
}

// NewImageEmbedding builds an Image segment from a pre-encoded embedding tensor.
func NewImageEmbedding(t Tensor) InputData {
	return InputData{Kind: InputImage, Embedding: t, hasEmbedding: true}
}

// NewAudioRaw builds an Audio segment from raw encoded bytes (e.g. WAV PCM).
func NewAudioRaw(data []byte, mime string) InputData {
	return InputData{Kind: InputAudio, RawBytes: data, MimeType: mime}
}

// NewAudioEmbedding builds an Audio segment from a pre-encoded embedding tensor.
func NewAudioEmbedding(t Tensor) InputData {
	return InputData{Kind: InputAudio, Embedding: t, hasEmbedding: true}
}

// NewAudioEnd builds the sentinel marking the end of an audio stream.
func NewAudioEnd() InputData { return InputData{Kind: InputAudioEnd} }

// IsPreEncoded reports whether this Image/Audio segment already carries an
// embedding tensor rather than raw bytes.
func (d InputData) IsPreEncoded() bool { return d.hasEmbedding }

// ExecutorInputs is what Executor.Prefill/DecodeLogits feeds to the
// compiled model: one tensor per modality plus an interleaving mask mapping
// reserved special-token positions in the text stream to embedding rows
// (spec.md §4.1).
type ExecutorInputs struct {
	IDs              []int
	Positions        []int
	Mask             Tensor
	ImageEmbeddings  Tensor
	AudioEmbeddings  Tensor
	// SpliceMask has one entry per id in IDs; nonzero values index into
	// ImageEmbeddings/AudioEmbeddings rows (1-based, 0 = no splice) tagged
	// by SpliceKind at the same index.
	SpliceMask []int
	SpliceKind []InputKind
}

// PrefillParams configures a single Prefill call.
type PrefillParams struct {
	LoraID *int
}

// PrefillResult reports the outcome of a single Prefill call.
type PrefillResult struct {
	PendingTokenID int
}

// DecodeInputs carries whatever the executor (or a handles-input sampler)
// assembled for one decode step.
type DecodeInputs struct {
	IDs       []int
	Positions []int
	Mask      Tensor
}

// DecodeResult carries the raw logits produced by one decode step.
type DecodeResult struct {
	Logits Tensor // shape [num_candidates, vocab_size]
}
