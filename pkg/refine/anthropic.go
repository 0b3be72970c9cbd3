package refine

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/XiaoConstantine/engram-go/pkg/logging"
)

// AnthropicRewriter implements RewriteCapability against the Anthropic
// Messages API. It honors the capability contract: any failure path
// resolves to the fallback text, never an error.
type AnthropicRewriter struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *logging.Logger
}

// NewAnthropicRewriter builds a rewriter for the given model. The API
// key falls back to ANTHROPIC_API_KEY; with no key at all the
// capability behaves as disabled.
func NewAnthropicRewriter(apiKey string, model anthropic.Model, logger *logging.Logger) *AnthropicRewriter {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	var client *anthropic.Client
	if apiKey != "" {
		c := anthropic.NewClient(option.WithAPIKey(apiKey))
		client = &c
	}
	return &AnthropicRewriter{
		client:    client,
		model:     model,
		maxTokens: 256,
		logger:    logger,
	}
}

func (a *AnthropicRewriter) Call(ctx context.Context, areaID, prompt, fallback string) RewriteResult {
	if a.client == nil {
		return RewriteResult{Text: fallback, Provider: "disabled"}
	}

	start := time.Now()
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0),
	})
	latency := time.Since(start)

	if err != nil {
		a.logger.Warn(ctx, "rewrite call %s failed after %v: %v", areaID, latency, err)
		return RewriteResult{Text: fallback, Provider: "anthropic", Latency: latency}
	}
	if message == nil || len(message.Content) == 0 {
		a.logger.Warn(ctx, "rewrite call %s returned no content", areaID)
		return RewriteResult{Text: fallback, Provider: "anthropic", Latency: latency}
	}

	var text string
	if block := message.Content[0]; block.Type == "text" {
		text = strings.TrimSpace(block.Text)
	}
	if text == "" {
		return RewriteResult{Text: fallback, Provider: "anthropic", Latency: latency}
	}
	return RewriteResult{
		Text:     text,
		UsedLLM:  true,
		Provider: "anthropic",
		Latency:  latency,
	}
}
