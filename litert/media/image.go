// Package media decodes raw image/audio bytes into the normalized pixel
// and sample buffers a vision/audio encoder would consume, standing in for
// original_source/runtime/components/preprocessor's ImagePreprocessor the
// same way core.StubRunner stands in for a real compiled-model backend:
// litertlm-go treats the actual vision/audio encoder as an external
// collaborator (spec.md frames only the text LLM backend), so this package
// only gets bytes into the float32 tensor shape RunGraph's splice inputs
// expect.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/tom-google/litertlm-go/litert/core"
)

// DecodeImage decodes data (PNG/JPEG/GIF) into an image.Image, following
// haasonsaas-nexus/internal/media/processor.go's blank-imported codec
// registration.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Resize scales img so its longest side is maxSize, preserving aspect
// ratio, using golang.org/x/image/draw's BiLinear scaler — the same
// resize step haasonsaas-nexus/internal/media/processor.go's resize runs
// before handing pixels to a model.
func Resize(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return img
	}
	if width <= maxSize && height <= maxSize {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = height * maxSize / width
	} else {
		newHeight = maxSize
		newWidth = width * maxSize / height
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// EncodePNG re-encodes img as PNG, the canonical form
// haasonsaas-nexus/internal/media/processor.go settles on "for consistent
// handling" after resizing.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ToEmbedding flattens img's RGBA pixels into a [height, width, 4] tensor
// of channel values normalized to [0, 1], the minimal numeric form a
// vision encoder's splice input needs (spec.md §4.1 ImageEmbeddings).
func ToEmbedding(img image.Image) core.Tensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	t := core.NewTensor(height, width, 4)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			t.Data[i+0] = float32(r) / 65535.0
			t.Data[i+1] = float32(g) / 65535.0
			t.Data[i+2] = float32(b) / 65535.0
			t.Data[i+3] = float32(a) / 65535.0
			i += 4
		}
	}
	return t
}

// DecodeAndEmbedImage runs the full decode -> resize -> embed pipeline
// used to turn a core.InputData carrying raw image bytes into one carrying
// a pre-encoded embedding tensor.
func DecodeAndEmbedImage(data []byte, maxSize int) (core.Tensor, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return core.Tensor{}, err
	}
	if maxSize > 0 {
		img = Resize(img, maxSize)
	}
	return ToEmbedding(img), nil
}
