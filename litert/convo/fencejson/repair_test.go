package fencejson_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-google/litertlm-go/litert/convo/fencejson"
)

func TestRepairClosesOpenObject(t *testing.T) {
	repaired := fencejson.Repair(`{"name":"get_weather","args":{"city":"Rome"`)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, "get_weather", out["name"])
}

func TestRepairClosesOpenString(t *testing.T) {
	repaired := fencejson.Repair(`{"city":"Rom`)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, "Rom", out["city"])
}

func TestRepairCompletesPartialBoolean(t *testing.T) {
	repaired := fencejson.Repair(`{"active":tr`)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, true, out["active"])
}

func TestRepairLeavesValidJSONUnchanged(t *testing.T) {
	valid := `{"a":1,"b":[1,2,3]}`
	assert.Equal(t, valid, fencejson.Repair(valid))
}

func TestRepairEmptyInput(t *testing.T) {
	assert.Equal(t, "", fencejson.Repair(""))
}
