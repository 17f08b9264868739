package media

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tom-google/litertlm-go/litert/core"
)

// Attachment is one not-yet-decoded image or audio segment awaiting
// embedding.
type Attachment struct {
	Kind core.InputKind // core.InputImage or core.InputAudio
	Data []byte
	Mime string
}

// EmbedAll decodes every attachment concurrently (one goroutine per
// attachment, following haasonsaas-nexus's errgroup fan-out style for
// independent per-item work) and returns the resulting core.InputData in
// the same order attachments was given, failing fast on the first decode
// error.
func EmbedAll(attachments []Attachment, maxImageSize int) ([]core.InputData, error) {
	out := make([]core.InputData, len(attachments))
	var g errgroup.Group
	for i, att := range attachments {
		i, att := i, att
		g.Go(func() error {
			switch att.Kind {
			case core.InputImage:
				t, err := DecodeAndEmbedImage(att.Data, maxImageSize)
				if err != nil {
					return fmt.Errorf("attachment %d: %w", i, err)
				}
				out[i] = core.NewImageEmbedding(t)
			case core.InputAudio:
				t, _, err := DecodeWAV(att.Data)
				if err != nil {
					return fmt.Errorf("attachment %d: %w", i, err)
				}
				out[i] = core.NewAudioEmbedding(t)
			default:
				return fmt.Errorf("attachment %d: unsupported kind %v", i, att.Kind)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
