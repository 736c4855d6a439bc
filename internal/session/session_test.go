package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/domain"
)

func TestSession_SaveAndLoadRoundTrip(t *testing.T) {
	s := New("what is go")
	s.References = []domain.Reference{{Excerpt: "Go is a language", SourceURL: "https://go.dev", Title: "Go"}}
	s.VisitedURLs = []string{"https://go.dev"}
	s.Stats = Stats{Steps: 3, URLsDiscovered: 5, URLsVisited: 1}
	s.Finish(true, "")

	dir := t.TempDir()
	path, err := s.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, s.ID+".json"), path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.Question, loaded.Question)
	assert.True(t, loaded.Success)
	assert.Equal(t, 3, loaded.Stats.Steps)
	require.Len(t, loaded.References, 1)
	assert.Equal(t, "https://go.dev", loaded.References[0].SourceURL)
}

func TestSession_FinishSetsFailureDetails(t *testing.T) {
	s := New("unanswerable")
	s.Finish(false, "exhausted beast mode attempts")
	assert.False(t, s.Success)
	assert.Equal(t, "exhausted beast mode attempts", s.Error)
	assert.False(t, s.FinishedAt.IsZero())
}

func TestSession_DurationZeroBeforeFinish(t *testing.T) {
	s := New("q")
	assert.Equal(t, time.Duration(0), s.Duration())
}

func TestSession_AddLogAppendsStructuredEntry(t *testing.T) {
	s := New("q")
	s.AddLog("info", "[step 0] search: go language")

	require.Len(t, s.Logs, 1)
	assert.Equal(t, "info", s.Logs[0].Level)
	assert.Equal(t, "[step 0] search: go language", s.Logs[0].Message)
	assert.False(t, s.Logs[0].Timestamp.IsZero())
}

func TestSession_RenderTextIncludesSectionBanners(t *testing.T) {
	s := New("what is go")
	s.Answer = "Go is a language."
	s.References = []domain.Reference{{Title: "Go", SourceURL: "https://go.dev"}}
	s.AddLog("info", "search completed")
	s.Finish(true, "")

	text := s.RenderText()
	assert.Contains(t, text, "=== SESSION ===")
	assert.Contains(t, text, "=== ANSWER ===")
	assert.Contains(t, text, "Go is a language.")
	assert.Contains(t, text, "=== REFERENCES ===")
	assert.Contains(t, text, "https://go.dev")
	assert.Contains(t, text, "=== STATS ===")
	assert.Contains(t, text, "=== LOGS ===")
	assert.Contains(t, text, "search completed")
}

func TestSession_SaveTextWritesLogFile(t *testing.T) {
	s := New("what is go")
	s.Finish(true, "")

	dir := t.TempDir()
	path, err := s.SaveText(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, s.ID+".log"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "=== SESSION ===")
}
