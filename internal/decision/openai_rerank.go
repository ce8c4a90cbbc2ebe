package decision

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIReranker implements Reranker against a chat-completions endpoint,
// asking the model to judge whether two business names refer to the same
// entity and to return a structured verdict.
type OpenAIReranker struct {
	client *openai.Client
	model  string
}

func NewOpenAIReranker(apiKey, model string) *OpenAIReranker {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIReranker{client: openai.NewClient(apiKey), model: model}
}

type rerankVerdict struct {
	Same       bool    `json:"same"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (r *OpenAIReranker) Rerank(ctx context.Context, queryRaw, candidateRaw string) (RerankResult, error) {
	prompt := fmt.Sprintf(
		"Business name A: %q\nBusiness name B: %q\n"+
			"Do these refer to the same company? Reply with strict JSON: "+
			`{"same": bool, "confidence": 0..1, "reason": string}`,
		queryRaw, candidateRaw,
	)
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return RerankResult{}, fmt.Errorf("rerank: %w", err)
	}
	if len(resp.Choices) == 0 {
		return RerankResult{}, fmt.Errorf("rerank: empty response")
	}
	var v rerankVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &v); err != nil {
		return RerankResult{}, fmt.Errorf("rerank: malformed response: %w", err)
	}
	return RerankResult{Same: v.Same, Confidence: v.Confidence, Reason: v.Reason}, nil
}
