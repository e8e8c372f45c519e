package gatewaycfg

import (
	"errors"
	"fmt"
	"strings"
)

// Provider selects which upstream model API the gateway talks to.
type Provider string

const (
	// ProviderManaged uses the operator's key and proxy base URL.
	ProviderManaged Provider = "managed"
	// ProviderOpenAI talks to the OpenAI API with the caller's key.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic talks to the Anthropic API with the caller's key.
	ProviderAnthropic Provider = "anthropic"
)

// MinAPIKeyLength is the shortest key accepted for a direct provider.
const MinAPIKeyLength = 10

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrAPIKeyRequired  = errors.New("api key required")
	ErrManagedDisabled = errors.New("managed provider is not configured")
)

var providerAliases = map[string]Provider{
	"":          ProviderManaged,
	"managed":   ProviderManaged,
	"emergent":  ProviderManaged,
	"openai":    ProviderOpenAI,
	"direct-a":  ProviderOpenAI,
	"anthropic": ProviderAnthropic,
	"direct-b":  ProviderAnthropic,
}

// ParseProvider maps a request value (including the direct-a/direct-b
// aliases) to a Provider. An empty value selects the managed provider.
func ParseProvider(s string) (Provider, error) {
	p, ok := providerAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// Direct reports whether the provider needs the caller's own key.
func (p Provider) Direct() bool {
	return p == ProviderOpenAI || p == ProviderAnthropic
}

// KeyEnvVar is the variable the gateway reads the provider key from, or ""
// when the key only lives in the config file.
func (p Provider) KeyEnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

// ValidateKey checks the key policy: optional for managed, at least
// MinAPIKeyLength characters for direct providers.
func ValidateKey(p Provider, key string) error {
	if !p.Direct() {
		return nil
	}
	if len(strings.TrimSpace(key)) < MinAPIKeyLength {
		return fmt.Errorf("%w: %s needs a key of at least %d characters", ErrAPIKeyRequired, p, MinAPIKeyLength)
	}
	return nil
}

// Cost is the per-token price in USD.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
}

// Model is one catalog entry.
type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Reasoning     bool     `json:"reasoning,omitempty"`
	Input         []string `json:"input"`
	Cost          Cost     `json:"cost"`
	ContextWindow int      `json:"contextWindow"`
	MaxTokens     int      `json:"maxTokens"`
}

// ProviderConfig is one entry under models.providers.
type ProviderConfig struct {
	BaseURL    string  `json:"baseUrl"`
	APIKey     string  `json:"apiKey"`
	API        string  `json:"api"`
	AuthHeader bool    `json:"authHeader,omitempty"`
	Models     []Model `json:"models"`
}

// Profile is everything a provider contributes to the document.
type Profile struct {
	Providers map[string]ProviderConfig
	// Aliases maps "<provider>/<model>" to a short alias.
	Aliases map[string]string
	Primary string
}

var (
	gpt52 = Model{
		ID: "gpt-5.2", Name: "GPT-5.2", Reasoning: true,
		Cost:          Cost{Input: 0.00000175, Output: 0.000014, CacheRead: 0.000000175, CacheWrite: 0.00000175},
		ContextWindow: 400000, MaxTokens: 128000,
	}
	o4mini = Model{
		ID: "o4-mini-2025-04-16", Name: "o4-mini", Reasoning: true,
		Input:         []string{"text", "image"},
		Cost:          Cost{Input: 0.0000011, Output: 0.0000044},
		ContextWindow: 200000, MaxTokens: 100000,
	}
	gpt4o = Model{
		ID: "gpt-4o", Name: "GPT-4o",
		Input:         []string{"text", "image"},
		Cost:          Cost{Input: 0.0000025, Output: 0.00001},
		ContextWindow: 128000, MaxTokens: 16384,
	}
	sonnet45 = Model{
		ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5",
		Input:         []string{"text"},
		Cost:          Cost{Input: 0.000003, Output: 0.000015, CacheRead: 0.0000003, CacheWrite: 0.00000375},
		ContextWindow: 200000, MaxTokens: 64000,
	}
	opus45 = Model{
		ID: "claude-opus-4-5", Name: "Claude Opus 4.5",
		Input:         []string{"text"},
		Cost:          Cost{Input: 0.000005, Output: 0.000025, CacheRead: 0.0000005, CacheWrite: 0.00000625},
		ContextWindow: 200000, MaxTokens: 64000,
	}
	opus45Dated = Model{
		ID: "claude-opus-4-5-20251101", Name: "Claude Opus 4.5",
		Input:         []string{"text", "image"},
		Cost:          Cost{Input: 0.000015, Output: 0.000075, CacheRead: 0.0000015, CacheWrite: 0.00001875},
		ContextWindow: 200000, MaxTokens: 64000,
	}
)

func withInput(m Model, input ...string) Model {
	m.Input = input
	return m
}

// ProfileFor builds the provider profile. For managed, baseURL is the
// operator proxy; for direct providers it is ignored.
func ProfileFor(p Provider, apiKey, managedBaseURL string) (Profile, error) {
	switch p {
	case ProviderManaged:
		if managedBaseURL == "" {
			return Profile{}, ErrManagedDisabled
		}
		base := strings.TrimRight(managedBaseURL, "/")
		return Profile{
			Providers: map[string]ProviderConfig{
				"managed-gpt": {
					BaseURL: base + "/",
					APIKey:  apiKey,
					API:     "openai-completions",
					Models:  []Model{withInput(gpt52, "text")},
				},
				"managed-claude": {
					BaseURL:    base,
					APIKey:     apiKey,
					API:        "anthropic-messages",
					AuthHeader: true,
					Models:     []Model{sonnet45, opus45},
				},
			},
			Aliases: map[string]string{
				"managed-gpt/gpt-5.2":              "gpt-5.2",
				"managed-claude/claude-sonnet-4-5": "sonnet",
			},
			Primary: "managed-claude/claude-sonnet-4-5",
		}, nil

	case ProviderOpenAI:
		return Profile{
			Providers: map[string]ProviderConfig{
				"openai": {
					BaseURL: "https://api.openai.com/v1/",
					APIKey:  apiKey,
					API:     "openai-completions",
					Models:  []Model{withInput(gpt52, "text", "image"), o4mini, gpt4o},
				},
			},
			Aliases: map[string]string{"openai/gpt-5.2": "gpt-5.2"},
			Primary: "openai/gpt-5.2",
		}, nil

	case ProviderAnthropic:
		return Profile{
			Providers: map[string]ProviderConfig{
				"anthropic": {
					BaseURL: "https://api.anthropic.com",
					APIKey:  apiKey,
					API:     "anthropic-messages",
					Models:  []Model{opus45Dated},
				},
			},
			Aliases: map[string]string{"anthropic/claude-opus-4-5-20251101": "opus"},
			Primary: "anthropic/claude-opus-4-5-20251101",
		}, nil
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
}
