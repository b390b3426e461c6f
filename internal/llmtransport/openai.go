package llmtransport

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAICompatClient calls a configured OpenAI-compatible chat-completions
// endpoint, grounded in the teacher's internal/llm/openai_client.go CallLLM:
// build SDK message params from a plain role/content list, set
// Temperature/MaxTokens, call Chat.Completions.New, return the first
// choice's content. response_format is set to a JSON-schema constraint when
// the caller supplies one, per spec.md §4.6's "strict-JSON response schema".
type OpenAICompatClient struct {
	sdk sdk.Client
}

// NewOpenAICompatClient builds a client against baseURL (empty = api.openai.com)
// authenticated with apiKey.
func NewOpenAICompatClient(baseURL, apiKey string) *OpenAICompatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatClient{sdk: sdk.NewClient(opts...)}
}

func (c *OpenAICompatClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	var msgs []sdk.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.JSONSchema) > 0 {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
				JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.JSONSchemaName,
					Schema: req.JSONSchema,
					Strict: param.NewOpt(true),
				},
			},
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion returned no choices")
	}
	return Response{Content: resp.Choices[0].Message.Content}, nil
}
