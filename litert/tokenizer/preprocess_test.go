package tokenizer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/tokenizer"
)

func TestPreprocessTokenizesPlainText(t *testing.T) {
	p := tokenizer.NewPreprocessor(nil)
	out, err := p.Preprocess(context.Background(), []core.InputData{core.NewTextRaw("hi")})
	require.NoError(t, err)
	assert.Equal(t, []int{'h', 'i'}, out.IDs)
	assert.Equal(t, []int{0, 0}, out.SpliceMask)
}

func TestPreprocessPassesThroughPreTokenizedIDs(t *testing.T) {
	p := tokenizer.NewPreprocessor(nil)
	out, err := p.Preprocess(context.Background(), []core.InputData{core.NewTextIDs([]int{9, 8, 7})})
	require.NoError(t, err)
	assert.Equal(t, []int{9, 8, 7}, out.IDs)
}

func TestPreprocessSplicesImageEmbeddingAsPlaceholderToken(t *testing.T) {
	p := tokenizer.NewPreprocessor(nil)
	embedding := core.NewTensor(2, 2)
	contents := []core.InputData{
		core.NewTextRaw("look:"),
		core.NewImageEmbedding(embedding),
	}
	out, err := p.Preprocess(context.Background(), contents)
	require.NoError(t, err)

	require.Len(t, out.IDs, len("look:")+1)
	assert.Equal(t, tokenizer.ImagePlaceholderTokenID, out.IDs[len(out.IDs)-1])
	assert.Equal(t, 1, out.SpliceMask[len(out.SpliceMask)-1])
	assert.Equal(t, core.InputImage, out.SpliceKind[len(out.SpliceKind)-1])
	assert.Equal(t, []int{1, tokenizer.EmbedDim}, out.ImageEmbeddings.Shape)
}

func TestPreprocessRejectsRawUnencodedImageBytes(t *testing.T) {
	p := tokenizer.NewPreprocessor(nil)
	_, err := p.Preprocess(context.Background(), []core.InputData{core.NewImageRaw([]byte{1, 2, 3}, "image/png")})
	assert.Error(t, err)
}

func TestPreprocessEmitsSentinelForAudioEnd(t *testing.T) {
	p := tokenizer.NewPreprocessor(nil)
	out, err := p.Preprocess(context.Background(), []core.InputData{core.NewAudioEnd()})
	require.NoError(t, err)
	assert.Equal(t, []int{tokenizer.AudioEndTokenID}, out.IDs)
}
