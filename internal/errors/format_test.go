package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a NotIndexed error
	err := NotIndexed("/repo", "text")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "Error: workspace /repo is not indexed")
	assert.Contains(t, out, "Hint: Run 'ygrep index'")
	assert.Contains(t, out, "Code: ERR_301_NOT_INDEXED")
}

func TestFormatForCLI_PlainErrorIsWrapped(t *testing.T) {
	out := FormatForCLI(errors.New("something broke"))

	assert.Contains(t, out, "Error: something broke")
	assert.Contains(t, out, "Code: ERR_501_INTERNAL")
}

func TestFormatForCLI_Nil(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	// Given: an error with a cause
	err := InvalidQuery("(", errors.New("missing closing )"))

	// When: formatting to JSON
	data, ferr := FormatJSON(err)
	require.NoError(t, ferr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Then: fields are exposed
	assert.Equal(t, ErrCodeInvalidQuery, decoded["code"])
	assert.Equal(t, "VALIDATION", decoded["category"])
	assert.Equal(t, "missing closing )", decoded["cause"])
	details := decoded["details"].(map[string]any)
	assert.Equal(t, "(", details["pattern"])
}

func TestLogAttrs_SortedDetails(t *testing.T) {
	err := New(ErrCodeIOFailure, "x", nil).WithDetail("z", "1").WithDetail("a", "2")

	attrs := LogAttrs(err)

	require.Len(t, attrs, 8)
	assert.Equal(t, "error_code", attrs[0])
	assert.Equal(t, "detail_a", attrs[4])
	assert.Equal(t, "detail_z", attrs[6])
	assert.Equal(t, []any{"error", "plain"}, LogAttrs(errors.New("plain")))
}
