package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeviceName(t *testing.T) {
	name := GenerateDeviceName()
	assert.NotEmpty(t, name)
	assert.NotContains(t, name, "_")
}

func TestLoadOrCreateDeviceName(t *testing.T) {
	dir := t.TempDir()

	name, err := LoadOrCreateDeviceName(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	// A second load returns the persisted name
	again, err := LoadOrCreateDeviceName(dir)
	require.NoError(t, err)
	assert.Equal(t, name, again)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.NotEqual(t, "-", FormatTime(time.Now()))
}

func TestFormatTimePtr(t *testing.T) {
	assert.Equal(t, "-", FormatTimePtr(nil))

	now := time.Now()
	assert.NotEqual(t, "-", FormatTimePtr(&now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exactly-10", Truncate("exactly-10", 10))
	assert.Equal(t, "this is...", Truncate("this is far too long", 10))
	assert.Equal(t, "ab", Truncate("ab", 2), "tiny limits pass through unchanged")
}
