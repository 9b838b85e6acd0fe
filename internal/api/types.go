package api

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	// Stop accepts a single string or an array of strings.
	Stop   any    `json:"stop,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
	Stream *bool  `json:"stream,omitempty"`
}

// CompletionResponse is the non-streaming completion result.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
	// StopSequence is the stop string that ended generation, if any.
	StopSequence string `json:"stop_sequence,omitempty"`
}

type CompletionUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	// PromptTokensCached counts prompt tokens served from the state cache.
	PromptTokensCached int `json:"prompt_tokens_cached"`
	CompletionTokens   int `json:"completion_tokens"`
	TotalTokens        int `json:"total_tokens"`
}

// CompletionChunk is one SSE event of a streaming completion.
type CompletionChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
}

// PrewarmRequest is the body of POST /v1/prewarm.
type PrewarmRequest struct {
	Prompt string `json:"prompt"`
}

// PrewarmResponse reports what a pre-warm call resolved.
type PrewarmResponse struct {
	PromptTokens       int `json:"prompt_tokens"`
	PromptTokensCached int `json:"prompt_tokens_cached"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Lanes      int    `json:"lanes"`
	LaneDepths []int  `json:"lane_depths,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
