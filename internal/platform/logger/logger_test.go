package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSON_MergesBaseAndCallFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: Info, Format: FormatJSON, App: "records-access", Output: &buf})

	log.With(map[string]any{"component": "hub"}).Warn("subscriber buffer full", map[string]any{
		"user_id": "doctor-1",
		"err":     errors.New("dropped"),
		"":        "ignored",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "subscriber buffer full", entry["message"])
	assert.Equal(t, "records-access", entry["app"])
	assert.Equal(t, "hub", entry["component"])
	assert.Equal(t, "doctor-1", entry["user_id"])
	assert.Equal(t, "dropped", entry["err"])
	assert.NotContains(t, entry, "")
}

func TestLogger_LevelFiltersLowerEntries(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: Warn, Format: FormatJSON, Output: &buf})

	log.Info("not written", nil)
	assert.Zero(t, buf.Len())

	log.Error("written", nil)
	assert.NotZero(t, buf.Len())
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel(" DEBUG "))
	assert.Equal(t, Warn, ParseLevel("warning"))
	assert.Equal(t, Info, ParseLevel("nope"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatText, ParseFormat(""))
}
