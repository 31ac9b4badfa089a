package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to ProcessingStatus
	}{
		{StatusUploaded, StatusParsing},
		{StatusParsing, StatusSummarizing},
		{StatusParsing, StatusFailed},
		{StatusSummarizing, StatusIndexing},
		{StatusSummarizing, StatusFailed},
		{StatusIndexing, StatusReady},
		{StatusIndexing, StatusFailed},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	forbidden := []struct {
		from, to ProcessingStatus
	}{
		{StatusUploaded, StatusSummarizing},
		{StatusUploaded, StatusReady},
		{StatusUploaded, StatusFailed},
		{StatusParsing, StatusReady},
		{StatusParsing, StatusUploaded},
		{StatusSummarizing, StatusParsing},
		{StatusReady, StatusParsing},
		{StatusReady, StatusFailed},
		{StatusFailed, StatusParsing},
		{StatusFailed, StatusUploaded},
	}
	for _, tc := range forbidden {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be forbidden", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StatusReady.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusUploaded.Terminal())
	assert.False(t, StatusParsing.Terminal())
	assert.False(t, StatusSummarizing.Terminal())
	assert.False(t, StatusIndexing.Terminal())
}

func TestParseCategory(t *testing.T) {
	for _, valid := range []string{"maintenance", "operations", "spare_parts"} {
		cat, err := ParseCategory(valid)
		require.NoError(t, err)
		assert.Equal(t, DocumentCategory(valid), cat)
	}

	_, err := ParseCategory("recipes")
	require.Error(t, err)
	_, err = ParseCategory("")
	require.Error(t, err)
}

func TestStatusMessageTruncated(t *testing.T) {
	doc := &Document{
		Status:            StatusReady,
		DeclaredPageCount: 80,
		Truncated:         true,
	}
	msg := doc.StatusMessage(50)
	assert.Contains(t, msg, "ready")
	assert.Contains(t, msg, "80 pages")
	assert.Contains(t, msg, "first 50 pages")
}

func TestStatusMessageFailed(t *testing.T) {
	doc := &Document{
		Status:       StatusFailed,
		ErrorMessage: "parse failed after 3 attempts",
	}
	msg := doc.StatusMessage(50)
	assert.Contains(t, msg, "parse failed after 3 attempts")
}
