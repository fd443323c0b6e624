package config

import "context"

// SecretProvider resolves secret references to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns the values of the keys it could resolve.
	// Missing keys are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
