package state

import (
	"context"
	"fmt"

	"github.com/terrane-io/terrane/internal/ir"
)

// Backend is a state storage target.
type Backend interface {
	// Read loads the current state. A missing document yields fresh state.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state. Implementations must not leave a partially
	// written document behind on failure.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires the cross-run exclusive lock, failing with
	// *LockHeldError when another run holds it.
	Lock(ctx context.Context) error

	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewBackend builds a backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "local" {
		path := ""
		if cfg != nil {
			path = cfg.Config["path"]
		}
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewManager(path), nil
	}

	switch cfg.Type {
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
