package pyliteral_test

import (
	"testing"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/stretchr/testify/assert"

	"github.com/tom-google/litertlm-go/litert/convo/pyliteral"
)

func TestFormatCapitalizesBoolean(t *testing.T) {
	in := map[string]any{"key1": "bar", "key2": true}
	assert.Equal(t, `{"key1": "bar", "key2": True}`, pyliteral.Format(in))
}

func TestFormatNullBecomesNone(t *testing.T) {
	assert.Equal(t, "None", pyliteral.Format(nil))
}

func TestFormatPreservesOrderedMapInsertionOrder(t *testing.T) {
	m := orderedmap.New[string, any]()
	m.Set("city", "Rome")
	m.Set("days", float64(3))
	assert.Equal(t, `{"city": "Rome", "days": 3}`, pyliteral.Format(m))
}

func TestFormatRendersNestedList(t *testing.T) {
	in := map[string]any{"tags": []any{"a", "b", false}}
	assert.Equal(t, `{"tags": ["a", "b", False]}`, pyliteral.Format(in))
}

func TestFormatEscapesEmbeddedDoubleQuote(t *testing.T) {
	assert.Equal(t, `"say \"hi\""`, pyliteral.Format(`say "hi"`))
}

func TestFormatIntegerLikeFloatHasNoTrailingDecimal(t *testing.T) {
	assert.Equal(t, "3", pyliteral.Format(float64(3)))
}
