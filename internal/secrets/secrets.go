// Package secrets resolves named provider credentials at call time.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretUnavailable is returned when a secret is not configured or empty.
var ErrSecretUnavailable = errors.New("secret unavailable")

// Source looks up a secret by name.
type Source interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvSource reads NAME from the environment and falls back to the file
// named by NAME_FILE, which is how mounted secret volumes are exposed.
type EnvSource struct{}

func (EnvSource) GetSecret(_ context.Context, name string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, nil
	}

	path := strings.TrimSpace(os.Getenv(name + "_FILE"))
	if path == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrSecretUnavailable, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrSecretUnavailable, name+"_FILE", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrSecretUnavailable, path)
	}
	return v, nil
}

// Static serves secrets from a fixed map.
type Static map[string]string

func (s Static) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretUnavailable, name)
	}
	return v, nil
}

var (
	_ Source = EnvSource{}
	_ Source = Static(nil)
)
