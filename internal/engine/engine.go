// Package engine implements the provisioning core: graph construction,
// state diffing, wave scheduling and concurrent execution against
// providers.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
)

const defaultParallelism = 10

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry *provider.Registry
	secrets  *secret.Resolver

	// Parallelism bounds concurrent provider operations within a wave.
	Parallelism int
}

func New(registry *provider.Registry, secrets *secret.Resolver) *Engine {
	return &Engine{
		registry:    registry,
		secrets:     secrets,
		Parallelism: defaultParallelism,
	}
}

// canonicalInputs returns a deep copy of the resource's properties with
// every sensitive or secret-referencing value replaced by its opaque
// fingerprint. The result is what gets hashed, diffed and persisted;
// plaintext only ever flows to the provider at execution time.
func (e *Engine) canonicalInputs(ctx context.Context, res *ir.Resource, schema provider.ResourceSchema) (map[string]any, error) {
	props := normalizeValue(res.Properties).(map[string]any)
	out := make(map[string]any, len(props))
	for k, v := range props {
		if schema.Attributes[k].Sensitive {
			fp, err := e.fingerprintValue(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("%s: property %s: %w", res.Addr(), k, err)
			}
			out[k] = fp
			continue
		}
		masked, err := e.maskSecrets(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("%s: property %s: %w", res.Addr(), k, err)
		}
		out[k] = masked
	}
	return out, nil
}

// fingerprintValue reduces a whole value to a single opaque fingerprint,
// resolving any secret reference first so rotation changes the fingerprint.
func (e *Engine) fingerprintValue(ctx context.Context, v any) (string, error) {
	if s, ok := v.(string); ok {
		if secret.IsOpaque(s) {
			return s, nil
		}
		if secret.IsRef(s) {
			resolved, err := e.resolveSecret(ctx, s)
			if err != nil {
				return "", err
			}
			return secret.Fingerprint(resolved), nil
		}
		return secret.Fingerprint(s), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return secret.Fingerprint(string(raw)), nil
}

// maskSecrets replaces secret:// strings anywhere inside v with their
// fingerprints.
func (e *Engine) maskSecrets(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if secret.IsRef(val) {
			resolved, err := e.resolveSecret(ctx, val)
			if err != nil {
				return nil, err
			}
			return secret.Fingerprint(resolved), nil
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			masked, err := e.maskSecrets(ctx, v)
			if err != nil {
				return nil, err
			}
			out[k] = masked
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			masked, err := e.maskSecrets(ctx, v)
			if err != nil {
				return nil, err
			}
			out[i] = masked
		}
		return out, nil
	default:
		return val, nil
	}
}

func (e *Engine) resolveSecret(ctx context.Context, uri string) (string, error) {
	if e.secrets == nil {
		return "", fmt.Errorf("secret reference %q but no secret resolver configured", uri)
	}
	return e.secrets.Resolve(ctx, uri)
}

// hashInputs returns the canonical configuration hash. encoding/json sorts
// map keys, so equal inputs always hash equal.
func hashInputs(inputs map[string]any) (string, error) {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("failed to hash inputs: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeValue rewrites map[any]any (as produced by some decoders) into
// map[string]any so values marshal deterministically.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeValue(v)
		}
		return out
	case nil:
		return nil
	default:
		return val
	}
}
