// Package secret resolves secret:// property values and keeps their
// plaintext out of plans, state and logs.
//
// Two schemes are supported:
//
//	secret://env/NAME          value of the environment variable NAME
//	secret://aws-sm/ID[#key]   AWS Secrets Manager secret, optionally a
//	                           single key of a JSON secret payload
//
// Resolved plaintext is handed to providers at execution time only. Anything
// persisted or displayed uses an opaque fingerprint, so secret rotation is
// still detected as a change.
package secret

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Scheme prefixes a secret reference in resource properties.
const Scheme = "secret://"

// Opaque prefixes a fingerprint standing in for a secret value in persisted
// inputs and rendered diffs.
const Opaque = "$secret:"

// IsRef reports whether v is a secret reference.
func IsRef(v string) bool {
	return strings.HasPrefix(v, Scheme)
}

// IsOpaque reports whether v is a persisted fingerprint.
func IsOpaque(v string) bool {
	return strings.HasPrefix(v, Opaque)
}

// Fingerprint returns the opaque form of a resolved secret value.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte("terrane.secret.v1:" + value))
	return Opaque + hex.EncodeToString(sum[:])
}

// Resolver resolves secret references, caching results for the run.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]string

	smClient *secretsmanager.Client
}

func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string)}
}

// Resolve returns the plaintext value of a secret reference.
func (r *Resolver) Resolve(ctx context.Context, uri string) (string, error) {
	r.mu.Lock()
	if v, ok := r.cache[uri]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	rest := strings.TrimPrefix(uri, Scheme)
	source, path, ok := strings.Cut(rest, "/")
	if !ok || path == "" {
		return "", fmt.Errorf("malformed secret reference %q", uri)
	}

	var value string
	var err error
	switch source {
	case "env":
		value, err = resolveEnv(path)
	case "aws-sm":
		value, err = r.resolveSecretsManager(ctx, path)
	default:
		err = fmt.Errorf("unknown secret source %q in %q", source, uri)
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[uri] = value
	r.mu.Unlock()
	return value, nil
}

func resolveEnv(name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("secret environment variable %s is not set", name)
	}
	return value, nil
}

func (r *Resolver) resolveSecretsManager(ctx context.Context, path string) (string, error) {
	id, jsonKey, _ := strings.Cut(path, "#")

	if r.smClient == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load AWS config for secrets manager: %w", err)
		}
		r.smClient = secretsmanager.NewFromConfig(cfg)
	}

	out, err := r.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}
	value := *out.SecretString

	if jsonKey != "" {
		var payload map[string]string
		if err := json.Unmarshal([]byte(value), &payload); err != nil {
			return "", fmt.Errorf("secret %s is not a JSON object: %w", id, err)
		}
		v, ok := payload[jsonKey]
		if !ok {
			return "", fmt.Errorf("secret %s has no key %q", id, jsonKey)
		}
		value = v
	}

	return value, nil
}
