package core

import (
	"math"
	"math/rand"
	"sort"

	lerrors "github.com/tom-google/litertlm-go/litert/errors"
)

// Sampler samples token ids from a batch of logits, grounded on
// original_source/runtime/components/sampler.h. Most backends use the
// executor's own DefaultSampler; GPU/NPU-style backends can instead supply
// a Sampler that also fills the next step's input tensors itself
// (CanHandleInput/HandlesInput), avoiding a CPU round trip.
type Sampler interface {
	// SampleToIDAndScore samples one token id per candidate row of logits
	// (shape [batch, vocab]) using params, returning ids and their
	// log-probabilities.
	SampleToIDAndScore(logits Tensor, params SamplerParams) (ids []int, logProbs []float64, err error)

	// CanHandleInput reports whether this sampler is able to assemble the
	// next decode step's input tensors itself.
	CanHandleInput() bool

	// HandlesInput reports whether the sampler is currently configured to
	// do so (see sampler.h for the exact state-transition rules this
	// mirrors).
	HandlesInput() bool
}

// DefaultSampler is the executor's own CPU sampler, used for every
// SamplerParams.Kind (SamplerUnspecified samples greedily) unless another
// Sampler has been installed via Executor.SetSampler.
type DefaultSampler struct {
	rng *rand.Rand
}

// NewDefaultSampler creates a DefaultSampler seeded deterministically.
func NewDefaultSampler(seed int64) *DefaultSampler {
	return &DefaultSampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *DefaultSampler) CanHandleInput() bool { return false }
func (s *DefaultSampler) HandlesInput() bool   { return false }

func (s *DefaultSampler) SampleToIDAndScore(logits Tensor, params SamplerParams) ([]int, []float64, error) {
	if len(logits.Shape) != 2 {
		return nil, nil, lerrors.Internalf("logits must be rank 2 [batch, vocab], got shape %v", logits.Shape)
	}
	batch, vocab := logits.Shape[0], logits.Shape[1]
	ids := make([]int, batch)
	scores := make([]float64, batch)
	for b := 0; b < batch; b++ {
		row := logits.Data[b*vocab : (b+1)*vocab]
		id, logP := s.sampleRow(row, params)
		ids[b] = id
		scores[b] = logP
	}
	return ids, scores, nil
}

func (s *DefaultSampler) sampleRow(logits []float32, params SamplerParams) (int, float64) {
	switch params.Kind {
	case SamplerGreedy, SamplerUnspecified:
		return argmaxLogProb(logits)
	case SamplerTopK:
		return s.sampleTopK(logits, params.K, 1.0)
	case SamplerTopP:
		temp := params.Temperature
		if temp <= 0 {
			temp = 1.0
		}
		return s.sampleTopP(logits, params.K, params.P, temp)
	default:
		return argmaxLogProb(logits)
	}
}

func argmaxLogProb(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	logSumExp := logSumExpF32(logits)
	return best, float64(logits[best]) - logSumExp
}

func logSumExpF32(logits []float32) float64 {
	max := logits[0]
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - max))
	}
	return float64(max) + math.Log(sum)
}

// topKIndices returns the indices of the k highest logits, sorted
// descending by value.
func topKIndices(logits []float32, k int) []int {
	if k <= 0 || k > len(logits) {
		k = len(logits)
	}
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return logits[idx[i]] > logits[idx[j]] })
	return idx[:k]
}

func (s *DefaultSampler) sampleTopK(logits []float32, k int, temperature float64) (int, float64) {
	idx := topKIndices(logits, k)
	return s.sampleAmong(logits, idx, temperature)
}

func (s *DefaultSampler) sampleTopP(logits []float32, k int, p float64, temperature float64) (int, float64) {
	idx := topKIndices(logits, k)
	probs := softmaxSubset(logits, idx, temperature)
	var cum float64
	cut := len(idx)
	for i, pr := range probs {
		cum += pr
		if cum >= p {
			cut = i + 1
			break
		}
	}
	return s.sampleAmong(logits, idx[:cut], temperature)
}

func (s *DefaultSampler) sampleAmong(logits []float32, idx []int, temperature float64) (int, float64) {
	probs := softmaxSubset(logits, idx, temperature)
	r := s.rng.Float64()
	var cum float64
	choice := len(idx) - 1
	for i, pr := range probs {
		cum += pr
		if r <= cum {
			choice = i
			break
		}
	}
	return idx[choice], math.Log(probs[choice] + 1e-30)
}

func softmaxSubset(logits []float32, idx []int, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1.0
	}
	max := float64(logits[idx[0]])
	for _, i := range idx {
		if v := float64(logits[i]); v > max {
			max = v
		}
	}
	probs := make([]float64, len(idx))
	var sum float64
	for j, i := range idx {
		v := math.Exp((float64(logits[i]) - max) / temperature)
		probs[j] = v
		sum += v
	}
	for j := range probs {
		probs[j] /= sum
	}
	return probs
}
