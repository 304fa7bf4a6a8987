package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/knowledgehub/internal/core"
)

// ErrEmptyResponse means the model returned no usable text.
var ErrEmptyResponse = errors.New("empty model response")

// GeminiLLM answers chat prompts with one Gemini model. The primary and
// fallback chat models are two instances sharing a client.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
}

func NewGeminiLLM(client *genai.Client, modelName string) *GeminiLLM {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: client, modelName: modelName}
}

func (g *GeminiLLM) ModelName() string { return g.modelName }

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate (%s): %w", g.modelName, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", fmt.Errorf("gemini generate (%s): %w", g.modelName, err)
	}
	return text, nil
}

// responseText joins the text parts of the first candidate. A blocked prompt
// or a candidate cut short with no text is reported as ErrEmptyResponse.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("%w: prompt blocked (%v)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}

	c := resp.Candidates[0]
	var b strings.Builder
	if c.Content != nil {
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}

	text := strings.TrimSpace(b.String())
	if text != "" {
		return text, nil
	}
	if c.FinishReason != genai.FinishReasonUnspecified && c.FinishReason != genai.FinishReasonStop {
		return "", fmt.Errorf("%w: finish reason %v", ErrEmptyResponse, c.FinishReason)
	}
	return "", ErrEmptyResponse
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
