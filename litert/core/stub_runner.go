package core

import "context"

// StubRunner is a deterministic, in-process ModelRunner used by tests and
// examples in place of a real compiled-model backend. It "prefers" one
// favorite token id per call by giving it the highest logit: the next id of
// a fixed script on successive RunGraph calls, or token id 0 when no script
// is set.
type StubRunner struct {
	vocab   int
	backend string

	// Script, when non-empty, is consumed one id per RunGraph call
	// (wrapping around) to drive scripted decode sequences in tests.
	Script []int
	calls  int
}

// NewStubRunner builds a StubRunner with the given vocabulary size.
func NewStubRunner(vocab int) *StubRunner {
	return &StubRunner{vocab: vocab, backend: "stub-cpu"}
}

func (r *StubRunner) VocabSize() int      { return r.vocab }
func (r *StubRunner) BackendName() string { return r.backend }

// RunGraph ignores the actual KV-cache contents (the stub has no real
// attention state) and returns one logits row per requested candidate,
// favoring Script[r.calls%len(Script)] if a script is configured, else
// token id 0.
func (r *StubRunner) RunGraph(ctx context.Context, in ExecutorInputs, kvIn, kvOut map[string]Tensor) (Tensor, error) {
	batch := len(in.IDs)
	if batch == 0 {
		batch = 1
	}
	favorite := 0
	if len(r.Script) > 0 {
		favorite = r.Script[r.calls%len(r.Script)]
	}
	r.calls++

	logits := NewTensor(batch, r.vocab)
	for b := 0; b < batch; b++ {
		row := logits.Data[b*r.vocab : (b+1)*r.vocab]
		for i := range row {
			row[i] = 0.01
		}
		if favorite >= 0 && favorite < r.vocab {
			row[favorite] = 10.0
		}
	}
	return logits, nil
}
