package providers

// Message is one chat turn in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageInfo reports token accounting from the provider.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the parsed provider reply.
type LLMResponse struct {
	Content      string
	FinishReason string
	Usage        *UsageInfo
}

// ChatOptions tunes one generation call. Zero values mean provider defaults.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	HasTemp     bool
}
