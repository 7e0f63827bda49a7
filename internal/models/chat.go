package models

import "time"

// ChatMessage is a plain-text turn relayed to an OpenAI-protocol RunPod worker.
type ChatMessage struct {
	Role    string
	Content string
	Name    string
}

// ChatRequest is what the delegated chat route forwards. ExtraOptions are
// written into the upstream body unchanged, which is how worker sampling
// settings such as top_k reach vLLM.
type ChatRequest struct {
	Model        string
	Messages     []ChatMessage
	Temperature  *float32
	TopP         *float32
	MaxTokens    *int32
	Seed         *int64
	Stop         []string
	Stream       bool
	ExtraOptions map[string]any
}

// TokenUsage counts the tokens of one completion.
type TokenUsage struct {
	Prompt     int32
	Completion int32
	Total      int32
}

func (u TokenUsage) Empty() bool {
	return u.Prompt == 0 && u.Completion == 0 && u.Total == 0
}

// ChatChoice is one completion candidate; in a stream chunk Message is the delta.
type ChatChoice struct {
	Index        int
	Message      ChatMessage
	FinishReason string
}

type ChatResponse struct {
	ID      string
	Model   string
	Created time.Time
	Choices []ChatChoice
	Usage   TokenUsage
}

// ChatChunk is one streamed delta. The last chunk of a stream may carry only usage.
type ChatChunk struct {
	ID      string
	Model   string
	Created time.Time
	Choices []ChatChoice
	Usage   *TokenUsage
}

func (c ChatChunk) UsageOnly() bool {
	return len(c.Choices) == 0 && c.Usage != nil && !c.Usage.Empty()
}
