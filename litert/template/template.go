// Package template implements the L3 chat-template layer: rendering raw
// prompt segments into the exact token stream a model's chat template
// expects before each prefill (session_basic.cc's PreprocessContents ->
// template-application step).
//
// original_source/runtime/components/prompt_template.cc renders
// tokenizer_config.json's chat_template through minijinja, a full Jinja2
// engine. No Jinja engine ships in this module's dependency pack, and Go's
// ecosystem has no single dominant one the way Python/Rust do (see
// DESIGN.md); rather than vendor a half-compatible one, chat templates
// here are Go's text/template syntax, following the
// parse-once/execute-per-call pattern from
// haasonsaas-nexus/internal/templates/variables.go's VariableEngine. A
// template bundled with a model still needs its Jinja control flow
// rewritten to text/template syntax once, the same one-time adaptation
// EditTemplateForMinijinja performs for minijinja's Jinja dialect.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/tom-google/litertlm-go/litert/core"
	"github.com/tom-google/litertlm-go/litert/session"
)

// TurnInput is what a chat template's turn-open/turn-close snippets see.
type TurnInput struct {
	Role        string
	Text        string
	IsFirstTurn bool
}

// ChatTemplate renders one conversational turn at a time via small
// text/template snippets, rather than the whole-history Jinja template the
// original model ships (spec.md §9 Open Questions: litertlm-go applies the
// template incrementally per RunPrefill/RunDecode call instead of
// re-rendering full history every turn, matching session_basic.cc's
// own per-call ContentType-driven application).
type ChatTemplate struct {
	turnOpen  *template.Template
	turnClose *template.Template
	genOpen   *template.Template // appended before decode (flushTemplateTail)
}

// New compiles a ChatTemplate from three text/template snippet sources:
// turnOpenSrc wraps the start of a role's turn (e.g.
// "<start_of_turn>{{.Role}}\n"), turnCloseSrc closes it (e.g.
// "<end_of_turn>\n"), and genOpenSrc is appended once before decode begins
// (e.g. "<start_of_turn>model\n").
func New(turnOpenSrc, turnCloseSrc, genOpenSrc string) (*ChatTemplate, error) {
	turnOpen, err := template.New("turn_open").Parse(turnOpenSrc)
	if err != nil {
		return nil, fmt.Errorf("parse turn-open template: %w", err)
	}
	turnClose, err := template.New("turn_close").Parse(turnCloseSrc)
	if err != nil {
		return nil, fmt.Errorf("parse turn-close template: %w", err)
	}
	genOpen, err := template.New("gen_open").Parse(genOpenSrc)
	if err != nil {
		return nil, fmt.Errorf("parse generation-prompt template: %w", err)
	}
	return &ChatTemplate{turnOpen: turnOpen, turnClose: turnClose, genOpen: genOpen}, nil
}

// Gemma returns the Gemma-family chat template (the <start_of_turn>/
// <end_of_turn> convention gemma3_data_processor.cc's MessageToTemplateInput
// builds template_input for).
func Gemma() *ChatTemplate {
	t, err := New(
		"<start_of_turn>{{.Role}}\n",
		"<end_of_turn>\n",
		"<start_of_turn>model\n",
	)
	if err != nil {
		// The built-in template source is a constant; a parse failure here
		// would be a programming error, not a runtime condition.
		panic(err)
	}
	return t
}

func (t *ChatTemplate) render(tmpl *template.Template, in TurnInput) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// Apply implements session.Templater. For ContentFirst/ContentMiddle it
// wraps each InputText segment's raw text between the role's turn-open and
// turn-close snippets, leaving Image/Audio segments untouched. For
// ContentLast it ignores contents (session.Session always passes a single
// empty text segment there) and returns just the generation-prompt opener,
// or nil if that would be empty.
func (t *ChatTemplate) Apply(contents []core.InputData, kind session.ContentKind, isFirstTurn bool) ([]core.InputData, error) {
	if kind == session.ContentNone {
		return contents, nil
	}
	if kind == session.ContentLast {
		opener, err := t.render(t.genOpen, TurnInput{Role: "model", IsFirstTurn: isFirstTurn})
		if err != nil {
			return nil, err
		}
		if opener == "" {
			return nil, nil
		}
		return []core.InputData{core.NewTextRaw(opener)}, nil
	}

	role := "user"
	open, err := t.render(t.turnOpen, TurnInput{Role: role, IsFirstTurn: isFirstTurn})
	if err != nil {
		return nil, err
	}
	close_, err := t.render(t.turnClose, TurnInput{Role: role, IsFirstTurn: isFirstTurn})
	if err != nil {
		return nil, err
	}

	out := make([]core.InputData, 0, len(contents)+2)
	out = append(out, core.NewTextRaw(open))
	out = append(out, contents...)
	out = append(out, core.NewTextRaw(close_))
	return out, nil
}
