package convo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tom-google/litertlm-go/litert/convo"
)

func collectText(frags []convo.Fragment) string {
	var out string
	for _, f := range frags {
		if f.Kind == convo.FragmentText {
			out += f.Text
		}
	}
	return out
}

func TestFramerPassesPlainTextThrough(t *testing.T) {
	f := convo.NewFramer("```tool_call", "```")
	frags := f.Push("hello world")
	frags = append(frags, f.Flush()...)
	assert.Equal(t, "hello world", collectText(frags))
}

func TestFramerExtractsCompleteFence(t *testing.T) {
	f := convo.NewFramer("```tool_call\n", "```")
	frags := f.Push("before ```tool_call\n{\"name\":\"x\"}```after")
	frags = append(frags, f.Flush()...)

	var body string
	var texts []string
	for _, fr := range frags {
		if fr.Kind == convo.FragmentToolCallBody {
			body += fr.Text
		} else {
			texts = append(texts, fr.Text)
		}
	}
	assert.Contains(t, body, `{"name":"x"}`)
	assert.Equal(t, "before ", texts[0])
	assert.Equal(t, "after", texts[len(texts)-1])
}

func TestFramerHandlesFenceSplitAcrossChunks(t *testing.T) {
	f := convo.NewFramer("```tool_call\n", "```")
	var frags []convo.Fragment
	frags = append(frags, f.Push("before ```tool_")...)
	frags = append(frags, f.Push("call\n{\"a\":1}")...)
	frags = append(frags, f.Push("```after")...)
	frags = append(frags, f.Flush()...)

	var body string
	for _, fr := range frags {
		if fr.Kind == convo.FragmentToolCallBody {
			body += fr.Text
		}
	}
	assert.Equal(t, `{"a":1}`, body)
	assert.Equal(t, "before after", collectText(frags))
}

func TestFramerWithNoFenceConfiguredEmitsTextOnly(t *testing.T) {
	f := convo.NewFramer("", "")
	frags := f.Push("anything ```tool_call\n at all")
	assert.Equal(t, "anything ```tool_call\n at all", collectText(frags))
}

func TestFramerFlushEmitsTrailingBuffer(t *testing.T) {
	f := convo.NewFramer("```tool_call\n", "```")
	frags := f.Push("trailing partial ```tool")
	assert.Equal(t, "trailing partial ", collectText(frags))
	flushed := f.Flush()
	assert.Len(t, flushed, 1)
	assert.Equal(t, "```tool", flushed[0].Text)
}
