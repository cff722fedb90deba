package ai

import "context"

// CompletionInput contains the material needed to rewrite a prompt.
type CompletionInput struct {
	Task         string
	BasePrompt   string
	Weaknesses   []string
	Suggestions  []string
	TargetMetric string
}

// CompletionResult is the rewritten prompt returned by the model.
type CompletionResult struct {
	Text       string                 `json:"text"`
	Model      string                 `json:"model"`
	TokensUsed int                    `json:"tokens_used"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// Completer is an opaque text-completion service used to synthesise prompt variants.
type Completer interface {
	Complete(ctx context.Context, input CompletionInput) (CompletionResult, error)
}
