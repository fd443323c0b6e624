package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// EnvVarProvider resolves keys as environment variable names. It is the
// local stand-in for FileProvider.
type EnvVarProvider struct{}

// NewEnvVarProvider creates an EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks each key up with os.LookupEnv.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// FileProvider resolves keys as paths to mounted secret files, such as
// container orchestrator secrets under /run/secrets. Relative keys are
// resolved under root.
type FileProvider struct {
	root fs.FS
}

// NewFileProvider creates a FileProvider reading from fsys. Pass
// os.DirFS("/") for absolute paths.
func NewFileProvider(fsys fs.FS) *FileProvider {
	return &FileProvider{root: fsys}
}

// GetParametersBatch reads each file and trims the trailing newline. Missing
// files are omitted; any other read error fails the batch.
func (p *FileProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := fs.ReadFile(p.root, strings.TrimPrefix(key, "/"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading secret %s: %w", key, err)
		}
		result[key] = strings.TrimRight(string(b), "\r\n")
	}
	return result, nil
}
