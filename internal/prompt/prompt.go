// internal/prompt/prompt.go

// Package prompt holds the fixed analysis prompt and the default analysis
// shown before the first upload. The prompt can be overridden from a file
// that is watched for edits.
package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Corphon/FlagLens/internal/utils"
)

// DefaultPrompt asks for the five categories the formatter renders.
const DefaultPrompt = `You are an expert vexillologist. Analyze the flag in this image and respond in plain text using exactly these numbered sections:

1. Flag Identification
- Country or Organization: name
- Official Name: name of the flag
- Type: national, state, civil ensign, organizational, historical, etc.

2. Design & Symbolism
- Colors: each color and what it represents
- Symbols: each emblem or charge and its meaning
- Proportions: width to height ratio

3. Historical Background
- Adoption Date: when the current design was adopted
- Designer: who designed it, if known
- Key events in the flag's history as short dash entries

4. Flag Protocol
- Display rules, half-mast customs and handling etiquette as short dash entries

5. Additional Facts
- Interesting trivia as short dash entries

Use "- Label: value" for facts and "- text" for list entries. Do not use tables.`

// DefaultAnalysis is rendered for the bundled default image on first load.
const DefaultAnalysis = `1. Flag Identification
- Country or Organization: FlagLens sample tricolor
- Official Name: Demonstration Tricolor
- Type: Illustrative sample flag

2. Design & Symbolism
- Colors: Blue for vigilance, white for peace, red for courage
- Symbols: None, a plain vertical tricolor
- Proportions: 2:3

3. Historical Background
- Adoption Date: Generated when the server first starts
- Designer: The FlagLens bootstrap routine
- Vertical tricolors spread widely after the late 18th century

4. Flag Protocol
- Fly the blue stripe nearest the hoist
- Lower slowly and with ceremony

5. Additional Facts
- Upload a photo of any flag to replace this sample analysis.`

// Store serves the current prompt text.
type Store struct {
	mu     sync.RWMutex
	text   string
	path   string
	logger *utils.Logger
}

// NewStore returns a store seeded with DefaultPrompt, or with the contents of
// path when path is non-empty.
func NewStore(path string, logger *utils.Logger) (*Store, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	s := &Store{text: DefaultPrompt, path: path, logger: logger}
	if path == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the prompt to send with the next request.
func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Path returns the override file, or "" when the built-in prompt is used.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read prompt file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("prompt file %s is empty", s.path)
	}

	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
	return nil
}

// Watch reloads the prompt whenever the override file changes, until ctx is
// cancelled. It returns nil immediately when no override file is configured.
// The parent directory is watched so editors that replace the file are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch prompt dir: %w", err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("prompt reload failed, keeping previous prompt", map[string]interface{}{"error": err})
				continue
			}
			s.logger.Info("prompt reloaded", map[string]interface{}{"path": s.path})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("prompt watcher error", map[string]interface{}{"error": err})
		}
	}
}
