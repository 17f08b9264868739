package core

// KVCache is the layer-indexed pair of tensors caching attention keys and
// values for the processed prefix (GLOSSARY). It is double-buffered: some
// backends forbid simultaneous read/write aliasing, so the executor keeps
// two named tensor sets and a selector identifying which is "input" for the
// current step, swapping after each prefill chunk / decode step
// (spec.md §9).
type KVCache struct {
	bufferA map[string]Tensor
	bufferB map[string]Tensor
	// aIsInput is true when bufferA holds the current input (read) state
	// and bufferB is the scratch output (write) state.
	aIsInput bool
}

// NewKVCache allocates a KVCache with the given per-layer shapes.
func NewKVCache(layerShapes map[string][]int) *KVCache {
	c := &KVCache{
		bufferA:  make(map[string]Tensor, len(layerShapes)),
		bufferB:  make(map[string]Tensor, len(layerShapes)),
		aIsInput: true,
	}
	for name, shape := range layerShapes {
		c.bufferA[name] = NewTensor(shape...)
		c.bufferB[name] = NewTensor(shape...)
	}
	return c
}

// Input returns the buffer set that should be read from this step.
func (c *KVCache) Input() map[string]Tensor {
	if c.aIsInput {
		return c.bufferA
	}
	return c.bufferB
}

// Output returns the buffer set that should be written to this step.
func (c *KVCache) Output() map[string]Tensor {
	if c.aIsInput {
		return c.bufferB
	}
	return c.bufferA
}

// Swap flips which buffer set is "input" for the next step, so this step's
// output becomes next step's input (spec.md §4.1 prefill algorithm step 2:
// "invoke the compiled graph, then swap so B becomes input for the next
// step").
func (c *KVCache) Swap() {
	c.aIsInput = !c.aIsInput
}

// Clone deep-copies both buffer sets, used by session clone (spec.md §4.2
// CloneSession: "KV-cache tensors duplicated").
func (c *KVCache) Clone() *KVCache {
	out := &KVCache{
		bufferA:  make(map[string]Tensor, len(c.bufferA)),
		bufferB:  make(map[string]Tensor, len(c.bufferB)),
		aIsInput: c.aIsInput,
	}
	for name, t := range c.bufferA {
		out.bufferA[name] = Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
	}
	for name, t := range c.bufferB {
		out.bufferB[name] = Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
	}
	return out
}

// ProcessedToken is one committed token with the executor step it was
// committed at (spec.md §3 ProcessedContext).
type ProcessedToken struct {
	TokenID int
	Step    int
}

// ProcessedContext is the per-session executor state: KV-cache buffers, the
// committed token log, the optional LoRA id, and at most one pending token
// (spec.md §3).
type ProcessedContext struct {
	LoraID         *int
	Cache          *KVCache
	ProcessedTokens []ProcessedToken
	// PendingTokenID is the deferred last prefill token; -1 means none.
	PendingTokenID int
}

// NewProcessedContext creates an empty context bound to cache.
func NewProcessedContext(cache *KVCache) *ProcessedContext {
	return &ProcessedContext{Cache: cache, PendingTokenID: -1}
}

// HasPending reports whether a pending token is carried (spec.md §3
// invariant: "after any successful prefill, exactly one pending token
// exists").
func (p *ProcessedContext) HasPending() bool { return p.PendingTokenID >= 0 }

// Clone deep-copies the context atomically, per spec.md §4.2 session clone.
func (p *ProcessedContext) Clone() *ProcessedContext {
	var lora *int
	if p.LoraID != nil {
		v := *p.LoraID
		lora = &v
	}
	return &ProcessedContext{
		LoraID:          lora,
		Cache:           p.Cache.Clone(),
		ProcessedTokens: append([]ProcessedToken(nil), p.ProcessedTokens...),
		PendingTokenID:  p.PendingTokenID,
	}
}

// CommitToken appends a committed token and clears any pending token.
func (p *ProcessedContext) CommitToken(tokenID, step int) {
	p.ProcessedTokens = append(p.ProcessedTokens, ProcessedToken{TokenID: tokenID, Step: step})
	p.PendingTokenID = -1
}

// SetPending marks tokenID as the single pending token (does not commit it).
func (p *ProcessedContext) SetPending(tokenID int) {
	p.PendingTokenID = tokenID
}

// RollbackTo truncates ProcessedTokens so exactly n remain committed and
// clears any pending token, used by Executor.SetCurrentStep (spec.md §4.1,
// "used for cancellation recovery").
func (p *ProcessedContext) RollbackTo(n int) {
	if n < len(p.ProcessedTokens) {
		p.ProcessedTokens = p.ProcessedTokens[:n]
	}
	p.PendingTokenID = -1
}

// Reset clears all processed/pending state.
func (p *ProcessedContext) Reset() {
	p.ProcessedTokens = nil
	p.PendingTokenID = -1
}
