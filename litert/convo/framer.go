package convo

import "strings"

// FragmentKind tags whether a Framer fragment is plain text or the body of
// a completed tool-call fence.
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentToolCallBody
)

// Fragment is one piece of a streaming assistant reply, either plain text
// to show the user or the raw body of one completed tool-call fence to
// hand to the fencejson/schema layer.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Framer is the Outside/InsideFence state machine from spec.md §4.4,
// generalizing pkg/middleware/extract_reasoning.go's reasoning/text
// toggle (and internal_callback_util.cc's code-fence cursor scan) from a
// two-state text/reasoning split to a text/tool-call-fence split. It
// buffers partial matches across chunk boundaries so a fence marker split
// across two stream chunks is still recognized.
type Framer struct {
	fenceStart string
	fenceEnd   string

	insideFence bool
	buffer      string
}

// NewFramer builds a Framer that treats text between fenceStart and
// fenceEnd as tool-call fence bodies. An empty fenceStart disables fence
// detection entirely (every Push/Flush just echoes text fragments).
func NewFramer(fenceStart, fenceEnd string) *Framer {
	return &Framer{fenceStart: fenceStart, fenceEnd: fenceEnd}
}

// Push feeds one more chunk of streamed text into the framer and returns
// zero or more fragments that are now fully resolved.
func (f *Framer) Push(chunk string) []Fragment {
	f.buffer += chunk
	var out []Fragment

	for {
		nextTag := f.fenceStart
		if f.insideFence {
			nextTag = f.fenceEnd
		}

		if nextTag == "" {
			if len(f.buffer) > 0 {
				out = append(out, f.makeFragment(f.buffer))
				f.buffer = ""
			}
			break
		}

		startIndex := getPotentialStartIndex(f.buffer, nextTag)
		if startIndex == -1 {
			if len(f.buffer) > 0 {
				out = append(out, f.makeFragment(f.buffer))
				f.buffer = ""
			}
			break
		}

		if startIndex > 0 {
			out = append(out, f.makeFragment(f.buffer[:startIndex]))
			f.buffer = f.buffer[startIndex:]
		}

		// f.buffer now starts exactly at the candidate tag (startIndex 0
		// relative to it); it's a full match only if the whole tag fits.
		fullMatch := len(nextTag) <= len(f.buffer)
		if !fullMatch {
			// Partial tag match sits at the end of the buffer; wait for
			// more input before deciding.
			break
		}

		// The tag itself is consumed, never emitted as a fragment (mirrors
		// extract_reasoning.go: "Remove the tag from buffer").
		f.buffer = f.buffer[len(nextTag):]
		f.insideFence = !f.insideFence
	}
	return out
}

func (f *Framer) makeFragment(text string) Fragment {
	if text == "" {
		return Fragment{}
	}
	if f.insideFence {
		return Fragment{Kind: FragmentToolCallBody, Text: text}
	}
	return Fragment{Kind: FragmentText, Text: text}
}

// Flush returns a final fragment for whatever remains buffered once the
// stream ends (mirrors extract_reasoning.go's EOF flush).
func (f *Framer) Flush() []Fragment {
	if f.buffer == "" {
		return nil
	}
	frag := f.makeFragment(f.buffer)
	f.buffer = ""
	return []Fragment{frag}
}

// getPotentialStartIndex finds where searchedText could potentially start
// in text: either a complete match, or a partial match at the very end of
// text (a suffix of text that is a prefix of searchedText). Returns -1 if
// neither is found.
func getPotentialStartIndex(text, searchedText string) int {
	if searchedText == "" {
		return -1
	}
	if idx := strings.Index(text, searchedText); idx != -1 {
		return idx
	}
	for i := len(text) - 1; i >= 0; i-- {
		if strings.HasPrefix(searchedText, text[i:]) {
			return i
		}
	}
	return -1
}
