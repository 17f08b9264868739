// Package toolschema validates tool-call arguments against each tool's
// declared JSON Schema, adapted from haasonsaas-nexus's
// pkg/pluginsdk/validation.go (same compile-once-cache-by-source pattern,
// applied to tool argument schemas instead of plugin config schemas).
package toolschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry compiles and caches one JSON Schema per tool name and validates
// tool-call arguments against it.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles rawSchema (JSON Schema bytes) for toolName. Call once
// per tool, typically when tool definitions are loaded.
func (r *Registry) Register(toolName string, rawSchema []byte) error {
	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(rawSchema))
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", toolName, err)
	}
	r.mu.Lock()
	r.schemas[toolName] = compiled
	r.mu.Unlock()
	return nil
}

// ValidateArguments implements convo.Schema. A tool with no registered
// schema passes validation unconditionally, so a Conversation can be built
// against a partial tool catalog without rejecting every call.
func (r *Registry) ValidateArguments(toolName string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema validates decoded JSON values (map[string]any/[]any/...),
	// so round-trip args through encoding/json to get its canonical shape
	// (numbers as float64, etc.) instead of assuming callers already match it.
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments for tool %q: %w", toolName, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode arguments for tool %q: %w", toolName, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for tool %q violate schema: %w", toolName, err)
	}
	return nil
}
