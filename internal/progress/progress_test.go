package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaharness/ada/pkg/types"
)

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	l := NewLog(t.TempDir())
	entry, err := l.Append(types.ProgressEntry{
		Kind:      types.ProgressSessionStart,
		FeatureID: "f1",
		Summary:   "starting session",
	}, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, int64(1000), entry.Timestamp)
}

func TestAppend_WritesDelimitedEntry(t *testing.T) {
	l := NewLog(t.TempDir())
	_, err := l.Append(types.ProgressEntry{
		Kind:      types.ProgressHandoff,
		FeatureID: "f1",
		SessionID: "s1",
		Summary:   "handing off",
		Notes:     "context nearly full",
	}, time.Now())
	require.NoError(t, err)

	tail, err := l.Tail(-1)
	require.NoError(t, err)
	assert.Contains(t, tail, "kind: handoff")
	assert.Contains(t, tail, "feature: f1")
	assert.Contains(t, tail, "session: s1")
	assert.Contains(t, tail, "context nearly full")
}

func TestAppend_NeverTruncates(t *testing.T) {
	l := NewLog(t.TempDir())
	for i := 0; i < 5; i++ {
		_, err := l.Append(types.ProgressEntry{
			Kind:      types.ProgressSessionEnd,
			FeatureID: "f1",
			Summary:   "entry",
		}, time.Now())
		require.NoError(t, err)
	}
	tail, err := l.Tail(-1)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(tail, "kind: session_end"))
}

func TestTail_LastNLines(t *testing.T) {
	l := NewLog(t.TempDir())
	for i := 0; i < 3; i++ {
		_, err := l.Append(types.ProgressEntry{Kind: types.ProgressSessionStart, FeatureID: "f1", Summary: "x"}, time.Now())
		require.NoError(t, err)
	}
	all, err := l.Tail(-1)
	require.NoError(t, err)
	allLines := strings.Split(all, "\n")

	last, err := l.Tail(2)
	require.NoError(t, err)
	lastLines := strings.Split(last, "\n")
	assert.Equal(t, allLines[len(allLines)-2:], lastLines)
}

func TestTailBytes_ReturnsSuffix(t *testing.T) {
	l := NewLog(t.TempDir())
	for i := 0; i < 50; i++ {
		_, err := l.Append(types.ProgressEntry{Kind: types.ProgressSessionStart, FeatureID: "f1", Summary: "padding entry to grow the file"}, time.Now())
		require.NoError(t, err)
	}
	full, err := l.TailBytes(1000)
	require.NoError(t, err)

	small, err := l.TailBytes(1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(small), 1024+200)
	assert.True(t, strings.HasSuffix(full, small) || len(small) < len(full))
}

func TestTail_EmptyFile(t *testing.T) {
	l := NewLog(t.TempDir())
	tail, err := l.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestTailBytes_MissingFile(t *testing.T) {
	l := NewLog(t.TempDir())
	tail, err := l.TailBytes(10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}
