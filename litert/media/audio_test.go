package media_test

import (
	"bytes"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/media"
)

func encodeTestWAV(t *testing.T, sampleRate, numChannels int, samples []int) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := wav.NewEncoder(&buf, sampleRate, 16, numChannels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestDecodeWAVReportsSampleRateAndShape(t *testing.T) {
	samples := []int{0, 16384, -16384, 32767, -32768, 0, 100, -100}
	data := encodeTestWAV(t, 16000, 2, samples)

	tensor, rate, err := media.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, []int{4, 2}, tensor.Shape)
}

func TestDecodeWAVNormalizesSamplesIntoUnitRange(t *testing.T) {
	samples := []int{32767, -32768}
	data := encodeTestWAV(t, 8000, 1, samples)

	tensor, _, err := media.DecodeWAV(data)
	require.NoError(t, err)
	require.Len(t, tensor.Data, 2)
	assert.InDelta(t, 1.0, tensor.Data[0], 0.001)
	assert.InDelta(t, -1.0, tensor.Data[1], 0.001)
}

func TestDecodeWAVRejectsNonWAVBytes(t *testing.T) {
	_, _, err := media.DecodeWAV([]byte("definitely not riff/wave"))
	assert.Error(t, err)
}
