package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-wearables/core"
)

// fileConfigLoader reads a YAML document, expanding ${VAR} references so
// provider secrets can stay in the environment.
type fileConfigLoader struct {
	path string
}

func (l fileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if strings.TrimSpace(l.path) == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	return raw, nil
}

func loadConfig(ctx context.Context, path string) (core.Config, error) {
	return core.NewCfgxConfigProvider(fileConfigLoader{path: path}).Load(ctx, core.DefaultConfig())
}

func resolveEncryptionKey(flagValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv(encryptionKeyEnv))
}
