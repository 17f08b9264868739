package media_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/media"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImageRoundTripsDimensions(t *testing.T) {
	data := encodeTestPNG(t, 16, 8)
	img, err := media.DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestResizeShrinksLongestSideToMax(t *testing.T) {
	data := encodeTestPNG(t, 200, 100)
	img, err := media.DecodeImage(data)
	require.NoError(t, err)

	resized := media.Resize(img, 50)
	assert.Equal(t, 50, resized.Bounds().Dx())
	assert.Equal(t, 25, resized.Bounds().Dy())
}

func TestResizeLeavesSmallImagesUntouched(t *testing.T) {
	data := encodeTestPNG(t, 10, 10)
	img, err := media.DecodeImage(data)
	require.NoError(t, err)

	resized := media.Resize(img, 50)
	assert.Equal(t, img.Bounds(), resized.Bounds())
}

func TestToEmbeddingProducesHeightWidthFourTensor(t *testing.T) {
	data := encodeTestPNG(t, 4, 3)
	img, err := media.DecodeImage(data)
	require.NoError(t, err)

	tensor := media.ToEmbedding(img)
	assert.Equal(t, []int{3, 4, 4}, tensor.Shape)
	assert.Equal(t, 3*4*4, tensor.Len())
}

func TestDecodeAndEmbedImageRejectsGarbageBytes(t *testing.T) {
	_, err := media.DecodeAndEmbedImage([]byte("not an image"), 64)
	assert.Error(t, err)
}
