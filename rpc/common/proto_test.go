package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindNames(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range Kinds() {
		name := k.String()
		require.NotEqual(t, "unknown", name, "kind %d has no name", k)
		require.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true

		parsed, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	assert.Equal(t, "unknown", Kind(200).String())

	_, err := ParseKind("nope")
	assert.Error(t, err)
}

func TestRequestJSONUsesKindName(t *testing.T) {
	req, err := NewRequest("id-1", KindRemoveBucket, map[string]string{"bucket": "users"})
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"remove-bucket"`)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindRemoveBucket, decoded.Kind)
	assert.JSONEq(t, `{"bucket":"users"}`, string(decoded.Payload))
}

func TestResponseErrors(t *testing.T) {
	ok := NewResultResponse("c1", map[string]int{"n": 1})
	assert.True(t, ok.IsOk())
	assert.NoError(t, ok.Err())

	var out map[string]int
	require.NoError(t, ok.Decode(&out))
	assert.Equal(t, 1, out["n"])

	failed := NewErrorResponse("c2", ErrCNotFound, "no document %s", "users/ada")
	assert.False(t, failed.IsOk())

	var respErr *ResponseError
	require.True(t, errors.As(failed.Decode(&out), &respErr))
	assert.Equal(t, ErrCNotFound, respErr.Code)
	assert.Equal(t, "no document users/ada", respErr.Message)
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		_, err := ParseLogLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}
