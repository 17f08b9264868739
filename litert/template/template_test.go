package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/session"
	"github.com/tom-google/litertlm-go/litert/template"
)

func flattenText(contents []core.InputData) string {
	var out string
	for _, c := range contents {
		if c.Kind == core.InputText {
			out += c.TextRaw
		}
	}
	return out
}

func TestGemmaWrapsTurnInOpenAndCloseTags(t *testing.T) {
	tmpl := template.Gemma()
	out, err := tmpl.Apply([]core.InputData{core.NewTextRaw("hello")}, session.ContentFirst, true)
	require.NoError(t, err)
	assert.Equal(t, "<start_of_turn>user\nhello<end_of_turn>\n", flattenText(out))
}

func TestGemmaContentLastReturnsGenerationOpener(t *testing.T) {
	tmpl := template.Gemma()
	out, err := tmpl.Apply([]core.InputData{core.NewTextRaw("")}, session.ContentLast, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "<start_of_turn>model\n", out[0].TextRaw)
}

func TestContentNonePassesThroughUnchanged(t *testing.T) {
	tmpl := template.Gemma()
	in := []core.InputData{core.NewTextRaw("raw")}
	out, err := tmpl.Apply(in, session.ContentNone, true)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNewRejectsInvalidTemplateSyntax(t *testing.T) {
	_, err := template.New("{{.Role", "", "")
	assert.Error(t, err)
}

func TestImageSegmentsPassThroughUnmodified(t *testing.T) {
	tmpl := template.Gemma()
	img := core.NewImageRaw([]byte{1, 2, 3}, "image/png")
	out, err := tmpl.Apply([]core.InputData{core.NewTextRaw("look:"), img}, session.ContentMiddle, false)
	require.NoError(t, err)
	var sawImage bool
	for _, c := range out {
		if c.Kind == core.InputImage {
			sawImage = true
		}
	}
	assert.True(t, sawImage)
}
