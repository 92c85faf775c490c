package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "sk-ant-REDACTED", false},
		{"empty key", "", true},
		{"wrong prefix", "sk-openai-12345678901234567890", true},
		{"too short", "sk-ant-abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_APIKey(t *testing.T) {
	llmAgent := []AgentConfig{{Name: "Writer", Capability: "writes prose", Kind: "llm"}}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "no backend needed",
			mutate: func(c *Config) {},
		},
		{
			name:    "llm agent without key",
			mutate:  func(c *Config) { c.Agents = llmAgent },
			wantErr: "no Anthropic API key",
		},
		{
			name: "malformed key",
			mutate: func(c *Config) {
				c.Agents = llmAgent
				c.Backend.APIKey = "not-a-key"
			},
			wantErr: "prefix",
		},
		{
			name: "judge criterion needs a key",
			mutate: func(c *Config) {
				c.Criterion.Kind = "judge"
				c.Backend.APIKey = "sk-ant-short"
			},
			wantErr: "too short",
		},
		{
			name: "well-formed key",
			mutate: func(c *Config) {
				c.Agents = llmAgent
				c.Backend.APIKey = "sk-ant-REDACTED"
			},
		},
		{
			name: "bedrock ignores key",
			mutate: func(c *Config) {
				c.Agents = llmAgent
				c.Backend.Provider = "bedrock"
			},
		},
		{
			name: "gateway accepts any key",
			mutate: func(c *Config) {
				c.Agents = llmAgent
				c.Backend.BaseURL = "http://localhost:4000"
				c.Backend.APIKey = "gateway-token"
			},
		},
		{
			name: "gateway still needs a key",
			mutate: func(c *Config) {
				c.Agents = llmAgent
				c.Backend.BaseURL = "http://localhost:4000"
			},
			wantErr: "no Anthropic API key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MissingKeyIsErrNoAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Planner.Kind = "backend"
	if err := cfg.Validate(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"valid key", "sk-ant-REDACTED", "sk-ant-...wxyz"},
		{"empty key", "", "(not set)"},
		{"short key", "short", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskAPIKey(tt.key)
			if result != tt.expected {
				t.Errorf("MaskAPIKey() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestGetAPIKeySource(t *testing.T) {
	const key = "sk-ant-REDACTED"
	withKey := &Config{Backend: BackendConfig{APIKey: key}}

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", key)
		t.Setenv("MAGENTIC_BACKEND_API_KEY", "")
		if got := GetAPIKeySource(withKey); got != KeySourceEnv {
			t.Errorf("expected KeySourceEnv, got %v", got)
		}
	})

	t.Run("from prefixed environment", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("MAGENTIC_BACKEND_API_KEY", key)
		if got := GetAPIKeySource(withKey); got != KeySourceEnv {
			t.Errorf("expected KeySourceEnv, got %v", got)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("MAGENTIC_BACKEND_API_KEY", "")
		if got := GetAPIKeySource(withKey); got != KeySourceConfig {
			t.Errorf("expected KeySourceConfig, got %v", got)
		}
	})

	t.Run("no key", func(t *testing.T) {
		if got := GetAPIKeySource(&Config{}); got != KeySourceNone {
			t.Errorf("expected KeySourceNone, got %v", got)
		}
	})
}
