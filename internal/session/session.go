// Package session defines the JSON persistence format for one completed
// (or failed) research run, and the writer that saves it to disk.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"deepresearch/internal/domain"
)

// PersonaStats summarizes one persona's contribution across the run.
type PersonaStats struct {
	Name           string `json:"name"`
	QueriesIssued  int    `json:"queries_issued"`
	QueriesAccepted int   `json:"queries_accepted"`
}

// TaskRecord captures one gap-reflection sub-question and its outcome.
type TaskRecord struct {
	Question string `json:"question"`
	Origin   string `json:"origin"`
	Resolved bool   `json:"resolved"`
}

// LogEntry is one structured log line attached to a session.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Stats aggregates run-level counters.
type Stats struct {
	Steps          int `json:"steps"`
	URLsDiscovered int `json:"urls_discovered"`
	URLsVisited    int `json:"urls_visited"`
	SearchCalls    int `json:"search_calls"`
	ReadCalls      int `json:"read_calls"`
	TokensUsed     int `json:"tokens_used"`
}

// Session is the complete persisted record of one research run.
type Session struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Question string             `json:"question"`
	Answer   string             `json:"answer"`
	References []domain.Reference `json:"references"`
	VisitedURLs []string          `json:"visited_urls"`

	Logs []LogEntry `json:"logs"`

	Personas        []PersonaStats `json:"personas"`
	ParallelBatches int            `json:"parallel_batches"`
	AllTasks        []TaskRecord   `json:"all_tasks"`

	Stats Stats `json:"stats"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// New creates a Session with a fresh UUID and StartedAt set to now.
func New(question string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Question:  question,
	}
}

// Finish stamps FinishedAt and the final success/error outcome.
func (s *Session) Finish(success bool, errMsg string) {
	s.FinishedAt = time.Now()
	s.Success = success
	s.Error = errMsg
}

// Duration returns FinishedAt - StartedAt; zero if the session hasn't
// finished yet.
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// AddLog appends one structured log entry, stamping its timestamp.
func (s *Session) AddLog(level, message string) {
	s.Logs = append(s.Logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
}

// RenderText produces a human-readable rendering of the session with
// section banners, for operators reading a run after the fact without
// tooling to parse the JSON form.
func (s *Session) RenderText() string {
	var b strings.Builder

	banner := func(title string) {
		b.WriteString("=== " + title + " ===\n")
	}

	banner("SESSION")
	fmt.Fprintf(&b, "id: %s\nquestion: %s\nstarted: %s\nfinished: %s\nduration: %s\nsuccess: %v\n",
		s.ID, s.Question, s.StartedAt.Format(time.RFC3339), s.FinishedAt.Format(time.RFC3339), s.Duration(), s.Success)
	if s.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", s.Error)
	}
	b.WriteString("\n")

	banner("ANSWER")
	b.WriteString(s.Answer)
	b.WriteString("\n\n")

	if len(s.References) > 0 {
		banner("REFERENCES")
		for _, r := range s.References {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.SourceURL)
		}
		b.WriteString("\n")
	}

	banner("STATS")
	fmt.Fprintf(&b, "steps: %d\nurls_discovered: %d\nurls_visited: %d\nsearch_calls: %d\nread_calls: %d\ntokens_used: %d\n",
		s.Stats.Steps, s.Stats.URLsDiscovered, s.Stats.URLsVisited, s.Stats.SearchCalls, s.Stats.ReadCalls, s.Stats.TokensUsed)
	b.WriteString("\n")

	if len(s.Personas) > 0 {
		banner("PERSONAS")
		for _, p := range s.Personas {
			fmt.Fprintf(&b, "- %s: issued=%d accepted=%d\n", p.Name, p.QueriesIssued, p.QueriesAccepted)
		}
		b.WriteString("\n")
	}

	banner("LOGS")
	for _, entry := range s.Logs {
		fmt.Fprintf(&b, "[%s] %s %s\n", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message)
	}

	return b.String()
}

// SaveText writes RenderText's output to dir/<id>.log, creating dir if
// needed.
func (s *Session) SaveText(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, s.ID+".log")
	if err := os.WriteFile(path, []byte(s.RenderText()), 0o644); err != nil {
		return "", fmt.Errorf("session: write %s: %w", path, err)
	}
	return path, nil
}

// Save writes the session as indented JSON to dir/<id>.json, creating dir
// if needed.
func (s *Session) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, s.ID+".json")

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("session: write %s: %w", path, err)
	}
	return path, nil
}

// Load reads a Session previously written by Save.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", path, err)
	}
	return &s, nil
}
