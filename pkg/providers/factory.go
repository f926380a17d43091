package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/simonryu328/aki-the-bot/pkg/config"
)

// CreateProvider builds the configured OpenRouter-backed provider.
func CreateProvider(pc config.ProviderConfig) (LLMProvider, error) {
	apiKey := strings.TrimSpace(pc.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required (set providers.openrouter.api_key or AKI_PROVIDERS_OPENROUTER_API_KEY)")
	}

	timeout := time.Duration(pc.TimeoutSecs) * time.Second
	return NewHTTPProvider(apiKey, strings.TrimSpace(pc.APIBase), strings.TrimSpace(pc.Model), timeout), nil
}
