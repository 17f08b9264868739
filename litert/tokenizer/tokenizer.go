// Package tokenizer implements the L3 text-encoding half of
// session_basic.cc's PreprocessContents + ProcessAndCombineContents: turning
// raw core.InputData segments into token ids and flattening the whole
// prompt into one core.ExecutorInputs.
//
// No SentencePiece/BPE/WordPiece library ships anywhere in this module's
// dependency pack (see DESIGN.md) — a real bundle's tokenizer_config.json
// vocabulary is out of scope the same way the compiled model itself is, so
// ByteTokenizer encodes text at the UTF-8 byte level instead of through a
// learned vocabulary. This is a deliberate standard-library-only piece,
// justified in DESIGN.md.
package tokenizer

// ByteTokenizer is a vocabulary-free Encoder: each UTF-8 byte is its own
// token id (0-255), so Decode never needs a lookup table.
type ByteTokenizer struct{}

// NewByteTokenizer builds a ByteTokenizer. It holds no state.
func NewByteTokenizer() *ByteTokenizer { return &ByteTokenizer{} }

// Encode converts text into one token id per UTF-8 byte.
func (t *ByteTokenizer) Encode(text string) []int {
	raw := []byte(text)
	ids := make([]int, len(raw))
	for i, b := range raw {
		ids[i] = int(b)
	}
	return ids
}

// Decode converts a single byte-range token id back to its one-byte
// string, or "" for ids outside 0-255 (the reserved splice-placeholder
// range Preprocessor uses).
func (t *ByteTokenizer) Decode(id int) string {
	if id < 0 || id > 255 {
		return ""
	}
	return string([]byte{byte(id)})
}
