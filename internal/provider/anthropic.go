package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
)

// AnthropicProvider generates encounters with Anthropic Claude models.
type AnthropicProvider struct {
	*Client
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	// ID defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Client    ClientConfig

	// Bedrock configuration
	UseBedrock bool
	Region     string
	Profile    string
}

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(ctx context.Context, config *AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" && !config.UseBedrock {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = DefaultAnthropicModel
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var cfg *claude.Config
	if config.UseBedrock {
		cfg = &claude.Config{
			ByBedrock: true,
			Region:    config.Region,
			Profile:   config.Profile,
			Model:     "anthropic." + modelID + "-v1:0",
			MaxTokens: maxTokens,
		}
	} else {
		cfg = &claude.Config{
			APIKey:    apiKey,
			Model:     modelID,
			MaxTokens: maxTokens,
		}
		if config.BaseURL != "" {
			cfg.BaseURL = &config.BaseURL
		}
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	cc := config.Client
	cc.ID = config.ID
	if cc.ID == "" {
		cc.ID = "anthropic"
	}
	cc.Name = "Anthropic"
	cc.Model = modelID
	cc.MaxTokens = maxTokens
	if cc.InputPrice == 0 && cc.OutputPrice == 0 {
		cc.InputPrice, cc.OutputPrice = 3.0, 15.0
	}

	return &AnthropicProvider{Client: NewClient(chatModel, cc)}, nil
}
