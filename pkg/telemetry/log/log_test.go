package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitJSONOutputWritesToConfiguredWriter tests that Init with
// JSONOutput routes log lines to the given writer as valid JSON.
func TestInitJSONOutputWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	WithComponent("engine").Info().Msg("opened database")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "engine", decoded["component"])
	assert.Equal(t, "opened database", decoded["message"])
}

// TestWithTableAndWithTxnAttachFields tests that the field-tagging helpers
// attach their respective keys.
func TestWithTableAndWithTxnAttachFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	WithTable("catalog", "widgets").Info().Msg("created table")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "widgets", decoded["table"])

	buf.Reset()
	WithTxn("engine", "tx-1").Info().Msg("committed")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "tx-1", decoded["txn_id"])
}

// TestInitDebugLevelSuppressesNothingBelowIt tests that a debug-level
// logger still emits an info line.
func TestInitDebugLevelSuppressesNothingBelowIt(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	WithComponent("engine").Info().Msg("hello")
	assert.NotEmpty(t, buf.Bytes())
}
