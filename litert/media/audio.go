package media

import (
	"bytes"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tom-google/litertlm-go/litert/core"
)

// DecodeWAV decodes a PCM WAV byte stream into a [frames, channels] tensor
// of samples normalized to [-1, 1], the numeric form an audio encoder's
// splice input needs (spec.md §4.1 AudioEmbeddings). frameRate reports the
// file's sample rate for callers that need to chunk audio into fixed-
// duration windows before prefill.
func DecodeWAV(data []byte) (t core.Tensor, frameRate int, err error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return core.Tensor{}, 0, fmt.Errorf("decode wav: not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return core.Tensor{}, 0, fmt.Errorf("decode wav: %w", err)
	}
	return pcmToTensor(buf), int(dec.SampleRate), nil
}

// pcmToTensor normalizes an audio.IntBuffer's samples by its bit depth into
// a [frames, channels] float32 tensor.
func pcmToTensor(buf *audio.IntBuffer) core.Tensor {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	t := core.NewTensor(frames, channels)

	maxAmplitude := float32(int(1) << (buf.SourceBitDepth - 1))
	if buf.SourceBitDepth <= 0 {
		maxAmplitude = 32768.0
	}
	for i, sample := range buf.Data {
		if i >= len(t.Data) {
			break
		}
		t.Data[i] = float32(sample) / maxAmplitude
	}
	return t
}
