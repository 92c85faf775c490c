package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the anthropic backend is needed but no key
// is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured (set backend.api_key or ANTHROPIC_API_KEY)")

const (
	apiKeyPrefix = "sk-ant-"
	apiKeyMinLen = 20
)

// ValidateAPIKey checks the shape of an Anthropic key. The key is not sent
// anywhere.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrNoAPIKey
	case !strings.HasPrefix(key, apiKeyPrefix):
		return fmt.Errorf("backend.api_key: expected %q prefix", apiKeyPrefix)
	case len(key) < apiKeyMinLen:
		return errors.New("backend.api_key: key too short")
	}
	return nil
}

// checkAPIKey rejects a missing or malformed key when a run would create an
// anthropic backend. Bedrock authenticates through AWS. A custom base_url may
// front a gateway with its own key scheme, so only presence is checked there.
func (c *Config) checkAPIKey() error {
	if !c.NeedsBackend() {
		return nil
	}
	if p := c.Backend.Provider; p != "" && p != "anthropic" {
		return nil
	}
	if c.Backend.BaseURL != "" {
		if c.Backend.APIKey == "" {
			return ErrNoAPIKey
		}
		return nil
	}
	return ValidateAPIKey(c.Backend.APIKey)
}

// MaskAPIKey hides all but the prefix and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:len(apiKeyPrefix)] + "..." + key[len(key)-4:]
}

// KeySource names where backend.api_key came from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource reports where the resolved key came from. Environment
// variables win over the file, matching the viper bindings in newViper.
func GetAPIKeySource(cfg *Config) KeySource {
	if cfg == nil || cfg.Backend.APIKey == "" {
		return KeySourceNone
	}
	for _, name := range []string{"ANTHROPIC_API_KEY", "MAGENTIC_BACKEND_API_KEY"} {
		if os.Getenv(name) == cfg.Backend.APIKey {
			return KeySourceEnv
		}
	}
	return KeySourceConfig
}
