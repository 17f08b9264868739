// Package pyliteral renders decoded tool-call arguments and tool-result
// payloads the way Gemma's chat template expects them: JSON syntax with
// Python-cased literals. Grounded on
// original_source/runtime/conversation/model_data_processor/gemma3_data_processor.cc's
// FormatValueAsPython/FormatToolResponse, whose documented example turns
// `{"tool_response": {"key1": "bar", "key2": true}}` into
// `{"key1": "bar", "key2": True}` — strings keep JSON double quotes, only
// true/false/null are re-cased to True/False/None.
package pyliteral

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Format renders v as a Python literal. Supported inputs are the shapes
// encoding/json produces (map[string]any, []any, string, float64, bool,
// nil) plus *orderedmap.OrderedMap[string, any] for callers that already
// have one (preserving key insertion order instead of map[string]any's
// undefined iteration order).
func Format(v any) string {
	var b strings.Builder
	write(&b, v)
	return b.String()
}

func write(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if val {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case string:
		b.WriteString(quoteString(val))
	case float64:
		writeNumber(b, val)
	case int:
		b.WriteString(strconv.Itoa(val))
	case []any:
		writeList(b, val)
	case map[string]any:
		writeSortedMap(b, val)
	case *orderedmap.OrderedMap[string, any]:
		writeOrderedMap(b, val)
	default:
		fmt.Fprintf(b, "%v", val)
	}
}

func writeNumber(b *strings.Builder, f float64) {
	if f == float64(int64(f)) {
		fmt.Fprintf(b, "%d", int64(f))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// quoteString keeps JSON's double-quote convention; only the true/false/null
// literals get re-cased to Python's True/False/None, per the documented
// FormatToolResponse example.
func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func writeList(b *strings.Builder, items []any) {
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		write(b, item)
	}
	b.WriteByte(']')
}

// writeSortedMap renders a plain map[string]any with keys sorted
// lexicographically, since Go map iteration order is undefined and
// callers that care about insertion order should use an OrderedMap.
func writeSortedMap(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteString(k))
		b.WriteString(": ")
		write(b, m[k])
	}
	b.WriteByte('}')
}

func writeOrderedMap(b *strings.Builder, m *orderedmap.OrderedMap[string, any]) {
	b.WriteByte('{')
	i := 0
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteString(pair.Key))
		b.WriteString(": ")
		write(b, pair.Value)
		i++
	}
	b.WriteByte('}')
}
