package core

// StopTokenDetector matches a growing sequence of sampled token ids against
// a configured set of stop-token sequences (spec.md §3 SessionConfig,
// §4.1 "Stop conditions"). Each candidate in a batch gets its own detector
// instance, since different candidates may diverge.
type StopTokenDetector struct {
	sequences [][]int
	progress  []int // per-sequence count of ids matched so far
	matched   bool
}

// NewStopTokenDetector builds a detector for the given set of stop-token
// sequences. An empty sequence is ignored (it can never be "matched").
func NewStopTokenDetector(sequences [][]int) *StopTokenDetector {
	d := &StopTokenDetector{}
	for _, seq := range sequences {
		if len(seq) == 0 {
			continue
		}
		d.sequences = append(d.sequences, seq)
	}
	d.progress = make([]int, len(d.sequences))
	return d
}

// Push advances every tracked sequence's match progress with tokenID.
// Returns true if this push completed a full stop sequence.
func (d *StopTokenDetector) Push(tokenID int) bool {
	if d.matched {
		return true
	}
	for i, seq := range d.sequences {
		if tokenID == seq[d.progress[i]] {
			d.progress[i]++
			if d.progress[i] == len(seq) {
				d.matched = true
			}
		} else if tokenID == seq[0] {
			d.progress[i] = 1
		} else {
			d.progress[i] = 0
		}
	}
	return d.matched
}

// Matched reports whether a full stop sequence has been observed since the
// last Reset.
func (d *StopTokenDetector) Matched() bool { return d.matched }

// Reset clears match progress, e.g. after Executor.Reset.
func (d *StopTokenDetector) Reset() {
	d.matched = false
	for i := range d.progress {
		d.progress[i] = 0
	}
}

// Clone returns an independent copy with the same configured sequences but
// fresh (zeroed) progress, matching spec.md §4.2: "the clone ... receives a
// fresh StopTokenDetector".
func (d *StopTokenDetector) Clone() *StopTokenDetector {
	return NewStopTokenDetector(d.sequences)
}
