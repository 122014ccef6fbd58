// Package session holds the state of one upload, analysis and generation
// cycle.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/igolaizola/sunoprompt/pkg/music"
)

var ErrNoResult = errors.New("session: no analysis result")

// Generation is a submitted generation and the last status received.
type Generation struct {
	IDs       []string                `json:"ids"`
	Request   music.GenerationRequest `json:"request"`
	Status    string                  `json:"status"`
	Tracks    []music.Track           `json:"tracks,omitempty"`
	Message   string                  `json:"message,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

type Session struct {
	lck sync.Mutex

	ID          string                `json:"id"`
	CreatedAt   time.Time             `json:"created_at"`
	File        string                `json:"file"`
	Metadata    music.Metadata        `json:"metadata,omitempty"`
	Result      *music.AnalysisResult `json:"result,omitempty"`
	Generations []*Generation         `json:"generations,omitempty"`
}

func New(file string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		File:      file,
	}
}

func (s *Session) SetMetadata(m music.Metadata) {
	s.lck.Lock()
	defer s.lck.Unlock()
	s.Metadata = m
}

// SetResult replaces the analysis result. Previous generations are kept.
func (s *Session) SetResult(r *music.AnalysisResult) {
	s.lck.Lock()
	defer s.lck.Unlock()
	s.Result = r
}

// Prompt returns the prompt variation with the given name. An empty name
// selects the first one.
func (s *Session) Prompt(name string) (music.PromptVariation, error) {
	s.lck.Lock()
	defer s.lck.Unlock()
	if s.Result == nil || len(s.Result.Prompts) == 0 {
		return music.PromptVariation{}, ErrNoResult
	}
	if name == "" {
		return s.Result.Prompts[0], nil
	}
	p, ok := s.Result.Prompt(name)
	if !ok {
		var names []string
		for _, p := range s.Result.Prompts {
			names = append(names, p.Name)
		}
		return music.PromptVariation{}, fmt.Errorf("session: prompt %q not found (available: %v)", name, names)
	}
	return p, nil
}

// AddGeneration records a submitted generation.
func (s *Session) AddGeneration(ids []string, req music.GenerationRequest) *Generation {
	s.lck.Lock()
	defer s.lck.Unlock()
	now := time.Now().UTC()
	g := &Generation{
		IDs:       ids,
		Request:   req,
		Status:    music.Queued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Generations = append(s.Generations, g)
	return g
}

// Update stores the latest status of a generation. Tracks already received
// are kept and new ones appended.
func (s *Session) Update(g *Generation, status *music.GenerationStatus) {
	s.lck.Lock()
	defer s.lck.Unlock()
	g.Status = status.Status
	g.Message = status.Message
	if g.Message == "" {
		g.Message = status.Error
	}
	g.UpdatedAt = time.Now().UTC()
	seen := map[string]struct{}{}
	for _, t := range g.Tracks {
		seen[t.ID+t.AudioURL] = struct{}{}
	}
	for _, t := range status.Results {
		if _, ok := seen[t.ID+t.AudioURL]; ok {
			continue
		}
		seen[t.ID+t.AudioURL] = struct{}{}
		g.Tracks = append(g.Tracks, t)
	}
}

// Last returns the most recent generation or nil.
func (s *Session) Last() *Generation {
	s.lck.Lock()
	defer s.lck.Unlock()
	if len(s.Generations) == 0 {
		return nil
	}
	return s.Generations[len(s.Generations)-1]
}

// Save writes the session as JSON. The file is replaced atomically.
func (s *Session) Save(path string) error {
	s.lck.Lock()
	b, err := json.MarshalIndent(s, "", "  ")
	s.lck.Unlock()
	if err != nil {
		return fmt.Errorf("session: couldn't marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("session: couldn't create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: couldn't create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: couldn't write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: couldn't close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("session: couldn't save %s: %w", path, err)
	}
	return nil
}

func Load(path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: couldn't read %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("session: couldn't unmarshal %s: %w", path, err)
	}
	return &s, nil
}

// DefaultPath is the session file under the user cache directory.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sunoprompt", "session.json")
}
