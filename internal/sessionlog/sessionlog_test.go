package sessionlog

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaharness/ada/pkg/types"
)

func TestFileName_Convention(t *testing.T) {
	started := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	name := FileName(started, 1, "claude-code", "auth-login")
	assert.Equal(t, "20260305_001_claude-code_auth-login.jsonl", name)
}

func TestWriterAppend_FlushesPerLine(t *testing.T) {
	l := NewLogger(t.TempDir())
	w, err := l.Create("session.jsonl")
	require.NoError(t, err)

	require.NoError(t, w.Append(EventLine{Type: "session_start", Timestamp: 1}))
	require.NoError(t, w.Append(EventLine{Type: "assistant", Timestamp: 2}))
	require.NoError(t, w.Close())

	lines, err := readJSONL(filepath.Join(l.root, sessionsDir, "session.jsonl"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "session_start", lines[0].Type)
	assert.Equal(t, "assistant", lines[1].Type)
}

func TestFinalizeAndList(t *testing.T) {
	l := NewLogger(t.TempDir())
	require.NoError(t, l.Finalize(IndexEntry{ID: "s1", File: "a.jsonl", FeatureID: "f1", StartedAt: 100}))
	require.NoError(t, l.Finalize(IndexEntry{ID: "s2", File: "b.jsonl", FeatureID: "f1", StartedAt: 200}))

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s2", entries[0].ID, "most recent first")
}

func TestFinalize_UpsertsExistingEntry(t *testing.T) {
	l := NewLogger(t.TempDir())
	require.NoError(t, l.Finalize(IndexEntry{ID: "s1", StartedAt: 100, Outcome: ""}))
	require.NoError(t, l.Finalize(IndexEntry{ID: "s1", StartedAt: 100, Outcome: types.OutcomeSuccess}))

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.OutcomeSuccess, entries[0].Outcome)
}

func TestLoadAndStreamTail(t *testing.T) {
	l := NewLogger(t.TempDir())
	w, err := l.Create("session.jsonl")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(EventLine{Type: "assistant", Timestamp: int64(i)}))
	}
	require.NoError(t, w.Close())
	require.NoError(t, l.Finalize(IndexEntry{ID: "s1", File: "session.jsonl", StartedAt: 1}))

	all, err := l.Load("s1")
	require.NoError(t, err)
	require.Len(t, all, 5)

	tail, err := l.StreamTail("s1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Timestamp)
	assert.Equal(t, int64(4), tail[1].Timestamp)
}

func TestMaybeArchive_MovesOldestSessionsIntoTar(t *testing.T) {
	l := NewLogger(t.TempDir())
	l.SetSizeCap(10) // tiny cap forces archiving

	w1, err := l.Create("old.jsonl")
	require.NoError(t, err)
	require.NoError(t, w1.Append(EventLine{Type: "session_start", Timestamp: 1}))
	require.NoError(t, w1.Close())
	require.NoError(t, l.Finalize(IndexEntry{ID: "old", File: "old.jsonl", StartedAt: 1, SizeBytes: mustSize(t, l, "old.jsonl")}))

	w2, err := l.Create("new.jsonl")
	require.NoError(t, err)
	require.NoError(t, w2.Append(EventLine{Type: "session_start", Timestamp: 2}))
	require.NoError(t, w2.Close())
	require.NoError(t, l.Finalize(IndexEntry{ID: "new", File: "new.jsonl", StartedAt: 2, SizeBytes: mustSize(t, l, "new.jsonl")}))

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	archivedCount, err := l.MaybeArchive(now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, archivedCount, 1)

	entries, err := l.List()
	require.NoError(t, err)
	var oldEntry *IndexEntry
	for i := range entries {
		if entries[i].ID == "old" {
			oldEntry = &entries[i]
		}
	}
	require.NotNil(t, oldEntry)
	assert.True(t, oldEntry.Archived)

	archivePath := filepath.Join(l.root, archiveDir, "202603.tar")
	assertTarContains(t, archivePath, "old.jsonl")

	_, err = os.Stat(filepath.Join(l.root, sessionsDir, "old.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func mustSize(t *testing.T, l *Logger, name string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(l.root, sessionsDir, name))
	require.NoError(t, err)
	return info.Size()
}

func assertTarContains(t *testing.T, path, name string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			t.Fatalf("tar %s does not contain %s", path, name)
		}
		require.NoError(t, err)
		if hdr.Name == name {
			return
		}
	}
}
