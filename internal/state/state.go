// Package state persists the last-applied record of every managed resource
// between runs.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/terrane-io/terrane/internal/ir"
)

// CurrentVersion is the state document format version.
const CurrentVersion = 1

// Manager reads and writes state on the local filesystem.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Read loads state from the configured path. A missing file yields a fresh
// empty state with a new lineage.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	var state ir.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", m.path, err)
	}
	return &state, nil
}

// Write saves state atomically: the document is written to a temp file in
// the same directory and renamed over the target, so a crash mid-write
// never corrupts previously committed state.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	raw = append(raw, '\n')

	content, err := EncryptState(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to chmod state file: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

// NewState returns an empty state document with a fresh lineage.
func NewState() *ir.State {
	return &ir.State{
		Version: CurrentVersion,
		Serial:  0,
		Lineage: uuid.New().String(),
	}
}

// Sink adapts a Backend into an engine StateSink for incremental writes.
type Sink struct {
	Backend Backend
}

func (s *Sink) Persist(ctx context.Context, state *ir.State) error {
	return s.Backend.Write(ctx, state)
}
