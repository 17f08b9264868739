package tokenizer

import (
	"context"

	lerrors "github.com/tom-google/litertlm-go/litert/errors"

	"github.com/tom-google/litertlm-go/litert/core"
)

// Reserved token ids outside ByteTokenizer's 0-255 byte range, marking
// where an image/audio embedding was spliced into the id stream (the
// single-placeholder-token-per-attachment convention common multimodal
// chat templates use).
const (
	ImagePlaceholderTokenID = 256
	AudioPlaceholderTokenID = 257
	AudioEndTokenID         = 258
)

// EmbedDim is the fixed row width Preprocessor pools every image/audio
// embedding tensor down to before splicing, standing in for the fixed
// output width a real vision/audio encoder head would already produce.
const EmbedDim = 64

// Preprocessor implements session.Preprocessor: it tokenizes InputText
// segments with a ByteTokenizer and splices already-embedded
// InputImage/InputAudio segments (see litert/media) in as placeholder
// tokens, following session_basic.cc's ProcessAndCombineContents.
type Preprocessor struct {
	tok *ByteTokenizer
}

// NewPreprocessor builds a Preprocessor over tok. Pass nil to use a fresh
// ByteTokenizer.
func NewPreprocessor(tok *ByteTokenizer) *Preprocessor {
	if tok == nil {
		tok = NewByteTokenizer()
	}
	return &Preprocessor{tok: tok}
}

// Preprocess flattens contents into one core.ExecutorInputs. Image/Audio
// segments must already carry a pre-encoded embedding (core.InputData.
// IsPreEncoded) — litert/media.DecodeAndEmbedImage/DecodeWAV build those;
// raw, not-yet-encoded bytes are rejected since this layer has no decoder
// of its own.
func (p *Preprocessor) Preprocess(ctx context.Context, contents []core.InputData) (core.ExecutorInputs, error) {
	var ids []int
	var spliceMask []int
	var spliceKind []core.InputKind
	var imageRows, audioRows [][]float32

	for _, c := range contents {
		switch c.Kind {
		case core.InputText:
			segIDs := c.TextIDs
			if !c.IsPreTokenized() {
				segIDs = p.tok.Encode(c.TextRaw)
			}
			for range segIDs {
				spliceMask = append(spliceMask, 0)
				spliceKind = append(spliceKind, core.InputText)
			}
			ids = append(ids, segIDs...)

		case core.InputImage:
			if !c.IsPreEncoded() {
				return core.ExecutorInputs{}, lerrors.Invalidf("image segment has not been encoded (see litert/media)")
			}
			imageRows = append(imageRows, poolToFixedWidth(c.Embedding.Data, EmbedDim))
			ids = append(ids, ImagePlaceholderTokenID)
			spliceMask = append(spliceMask, len(imageRows))
			spliceKind = append(spliceKind, core.InputImage)

		case core.InputAudio:
			if !c.IsPreEncoded() {
				return core.ExecutorInputs{}, lerrors.Invalidf("audio segment has not been encoded (see litert/media)")
			}
			audioRows = append(audioRows, poolToFixedWidth(c.Embedding.Data, EmbedDim))
			ids = append(ids, AudioPlaceholderTokenID)
			spliceMask = append(spliceMask, len(audioRows))
			spliceKind = append(spliceKind, core.InputAudio)

		case core.InputAudioEnd:
			ids = append(ids, AudioEndTokenID)
			spliceMask = append(spliceMask, 0)
			spliceKind = append(spliceKind, core.InputAudioEnd)
		}
	}

	return core.ExecutorInputs{
		IDs:             ids,
		ImageEmbeddings: stackRows(imageRows, EmbedDim),
		AudioEmbeddings: stackRows(audioRows, EmbedDim),
		SpliceMask:      spliceMask,
		SpliceKind:      spliceKind,
	}, nil
}

// poolToFixedWidth folds an arbitrary-length embedding into exactly width
// values by averaging each of width contiguous chunks, the stand-in for
// the fixed-width projection head a real vision/audio encoder would apply.
func poolToFixedWidth(data []float32, width int) []float32 {
	row := make([]float32, width)
	if len(data) == 0 {
		return row
	}
	chunk := float64(len(data)) / float64(width)
	for i := 0; i < width; i++ {
		start := int(float64(i) * chunk)
		end := int(float64(i+1) * chunk)
		if end <= start {
			end = start + 1
		}
		if end > len(data) {
			end = len(data)
		}
		if start >= end {
			row[i] = 0
			continue
		}
		var sum float32
		for _, v := range data[start:end] {
			sum += v
		}
		row[i] = sum / float32(end-start)
	}
	return row
}

// stackRows builds a [len(rows), width] tensor, or a zero-row tensor if
// rows is empty (no image/audio segments present).
func stackRows(rows [][]float32, width int) core.Tensor {
	t := core.NewTensor(len(rows), width)
	for i, row := range rows {
		copy(t.Data[i*width:(i+1)*width], row)
	}
	return t
}
