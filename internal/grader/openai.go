package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
)

// OpenAIGrader grades free-response answers through an OpenAI-compatible API
type OpenAIGrader struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGrader creates a grader from the service configuration
func NewOpenAIGrader(cfg config.OpenAIConfig) *OpenAIGrader {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIGrader{
		api:     openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Grade asks the model to judge the answer and parses its JSON verdict
func (g *OpenAIGrader) Grade(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildGradingSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.UserAnswer},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("grading API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("grading API returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}

	return &result, nil
}

func buildGradingSystemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are grading a student's free-response answer on a unit test.\n\n")
	sb.WriteString("QUESTION: " + req.QuestionText + "\n\n")
	sb.WriteString("REFERENCE ANSWER (not shown to student):\n" + req.ReferenceAnswer + "\n\n")
	if req.Explanation != "" {
		sb.WriteString("EXPLANATION:\n" + req.Explanation + "\n\n")
	}
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Judge whether the student's answer demonstrates the same understanding as the reference answer.\n")
	sb.WriteString("- Accept different wording when the meaning matches.\n")
	sb.WriteString("- Keep the feedback brief and addressed to the student.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"is_correct": <true/false>, "feedback": "<brief feedback>"}`)
	sb.WriteString("\n")

	return sb.String()
}
