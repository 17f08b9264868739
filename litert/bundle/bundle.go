// Package bundle loads a packaged model's metadata into a
// core.ModelAssets handle, following
// original_source/runtime/util/metadata_util.h's ExtractOrConvertLlmMetadata:
// read the bundle's metadata, and fall back to the legacy prompt-template
// fields if no Jinja chat_template is present.
//
// The real .litertlm container is a FlatBuffers/protobuf archive holding
// compiled model weights alongside an LlmMetadata message; reading that
// binary format is out of scope here the same way the compiled model
// itself is (spec.md treats the backend as an external collaborator). This
// package instead reads a JSON sidecar manifest carrying the same fields,
// so the rest of the runtime (which only ever touches core.ModelAssets)
// is exercised identically regardless of which container format a real
// deployment eventually uses.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"

	lerrors "github.com/tom-google/litertlm-go/litert/errors"

	"github.com/tom-google/litertlm-go/litert/core"
)

// manifest is the on-disk JSON shape Load reads, mirroring LlmMetadata's
// fields that core.ModelAssets cares about.
type manifest struct {
	StartTokenID        int     `json:"start_token_id"`
	StopTokenIDs        [][]int `json:"stop_token_ids"`
	JinjaPromptTemplate string  `json:"jinja_prompt_template"`
	LegacyUserTemplate  string  `json:"legacy_user_template"`
	LegacyModelTemplate string  `json:"legacy_model_template"`
}

// Load reads a JSON model manifest from path and returns a ModelAssets
// handle. Name is set to path, for diagnostics.
func Load(path string) (*core.ModelAssets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model manifest %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes raw JSON manifest bytes into a ModelAssets handle, tagging
// it with name for diagnostics. Exposed separately from Load so a manifest
// embedded in a larger archive (e.g. read out of a zip entry) can be
// parsed without a filesystem round-trip.
func Parse(name string, data []byte) (*core.ModelAssets, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model manifest %s: %w", name, err)
	}
	if m.JinjaPromptTemplate == "" && m.LegacyUserTemplate == "" {
		return nil, lerrors.Invalidf("model manifest %s has neither jinja_prompt_template nor legacy_user_template", name)
	}
	return &core.ModelAssets{
		Name:                name,
		StartTokenID:        m.StartTokenID,
		StopTokenIDs:        m.StopTokenIDs,
		JinjaPromptTemplate: m.JinjaPromptTemplate,
		LegacyUserTemplate:  m.LegacyUserTemplate,
		LegacyModelTemplate: m.LegacyModelTemplate,
	}, nil
}
