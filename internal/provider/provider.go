// Package provider defines the boundary between the engine core and
// resource-type-specific logic. Providers run in-process and are registered
// by name; the engine only ever sees this package's types.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Interface is implemented once per provider (aws, docker, null, ...).
// A provider owns a family of resource types and the CRUD calls for them.
type Interface interface {
	// Configure prepares API clients. Called once before any CRUD call.
	Configure(ctx context.Context) error

	// Schema returns capability metadata for every resource type the
	// provider supports.
	Schema() Schema

	// Create provisions a new resource and returns its provider-assigned
	// external ID along with resolved output attributes.
	Create(ctx context.Context, typ string, config map[string]any) (externalID string, outputs map[string]any, err error)

	// Read fetches the current outputs of an existing resource.
	// exists is false when the external resource is gone.
	Read(ctx context.Context, typ, externalID string) (outputs map[string]any, exists bool, err error)

	// Update mutates an existing resource in place. Providers return
	// ErrRequiresReplacement when the requested change cannot be applied
	// without recreating the resource.
	Update(ctx context.Context, typ, externalID string, config map[string]any) (outputs map[string]any, err error)

	// Delete removes the resource. A missing external resource is not an
	// error.
	Delete(ctx context.Context, typ, externalID string) error
}

// Schema maps resource type name to its metadata.
type Schema map[string]ResourceSchema

// ResourceSchema describes one resource type's attributes and capabilities.
type ResourceSchema struct {
	// Attributes keyed by property name. Properties absent from the map are
	// treated as mutable in place.
	Attributes map[string]Attribute

	// CreateBeforeDestroy indicates the provider can bring up a replacement
	// before tearing down the old resource (zero-downtime replace).
	CreateBeforeDestroy bool
}

// Attribute is capability metadata for a single property.
type Attribute struct {
	ForceNew  bool // changing this property requires replacement
	Sensitive bool // value must never be logged or stored in plaintext
	Computed  bool // populated by the provider, not declared by the user
}

// ForcesReplacement reports whether changing the named property requires
// recreating the resource.
func (s ResourceSchema) ForcesReplacement(property string) bool {
	return s.Attributes[property].ForceNew
}

// ErrRequiresReplacement is returned by Update when the change cannot be
// applied in place.
var ErrRequiresReplacement = errors.New("update requires replacement")

// Error wraps a provider API failure with retryability classification.
type Error struct {
	Provider  string
	Type      string
	Op        string // "create", "read", "update", "delete"
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s %s: %v", e.Provider, e.Op, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider error marked retryable.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}
