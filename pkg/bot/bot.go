// Package bot generates chat replies for bot-moderated rooms via the
// OpenAI chat completions API.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// defaultPrompt applies when a bot room was created without a prompt.
const defaultPrompt = "You are a friendly chat room moderator. Keep replies short and conversational."

// historyWindow caps how much room transcript is sent per request.
const historyWindow = 20

// OpenAI generates replies using the OpenAI API. Safe for concurrent use.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a reply generator. model may be empty for the default.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// GenerateReply produces one reply line for a room. prompt is the room's
// moderation prompt; history is the room transcript, most recent line last.
func (o *OpenAI) GenerateReply(ctx context.Context, prompt string, history []string) (string, error) {
	if prompt == "" {
		prompt = defaultPrompt
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	transcript := strings.Join(history, "\n")

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt +
				"\nYou are replying inside a chat room. Answer the last message in the transcript with a single short line. Do not prefix your reply with a name."),
			openai.UserMessage(transcript),
		},
	})
	if err != nil {
		return "", fmt.Errorf("bot: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("bot: completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("bot: completion returned empty reply")
	}
	// Keep the reply to one protocol line.
	if i := strings.IndexByte(reply, '\n'); i >= 0 {
		reply = strings.TrimSpace(reply[:i])
	}
	return reply, nil
}
