// Package llm adapts the Anthropic Messages API to the text-generation
// interface used by condensation and the turn runner.
package llm

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
)

// CondensedHistoryLabel prefixes synthetic summaries sent as user text.
const CondensedHistoryLabel = "[Condensed history]"

// ErrNoAPIKey is returned by NewClient without a key.
var ErrNoAPIKey = stderrors.New("ANTHROPIC_API_KEY is not set")

// Generator produces completions for a conversation window.
type Generator interface {
	// Generate returns the full completion.
	Generate(ctx context.Context, entries []message.Entry) (string, error)

	// Stream forwards fragments to onFragment as they arrive and returns the
	// accumulated text. On error or cancellation the text received so far
	// is returned alongside the error.
	Stream(ctx context.Context, entries []message.Entry, onFragment func(string)) (string, error)
}

// Options configures a Client.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Client is the Anthropic Generator.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewClient creates a Client. Extra request options (HTTP client, retries)
// are applied after the ones derived from opts.
func NewClient(opts Options, logger *zap.Logger, extra ...option.RequestOption) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, extra...)

	model := opts.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Client{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: int64(maxTokens),
		logger:    logging.OrNop(logger).Named("llm"),
	}, nil
}

// WithModel returns a copy of c that uses model.
func (c *Client) WithModel(model string) *Client {
	cp := *c
	if model != "" {
		cp.model = model
	}
	return &cp
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string { return c.model }

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, entries []message.Entry) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(entries))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(v.Text)
		}
	}

	c.logger.Debug("completion received",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	return b.String(), nil
}

// Stream implements Generator.
func (c *Client) Stream(ctx context.Context, entries []message.Entry, onFragment func(string)) (string, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(entries))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				b.WriteString(d.Text)
				if onFragment != nil {
					onFragment(d.Text)
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

func (c *Client) params(entries []message.Entry) anthropic.MessageNewParams {
	system, messages := Convert(entries)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

// Convert maps a window onto the Messages API shape. Leading system
// entries become the system prompt. Later system entries (condensation
// summaries) are sent as labelled user text, and consecutive turns of one
// role are merged into a single message.
func Convert(entries []message.Entry) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam

	i := 0
	for ; i < len(entries) && entries[i].Role == message.RoleSystem; i++ {
		if entries[i].Content != "" {
			system = append(system, anthropic.TextBlockParam{Text: entries[i].Content})
		}
	}

	var (
		messages []anthropic.MessageParam
		role     string
		blocks   []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == message.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, e := range entries[i:] {
		r, text := e.Role, e.Content
		if r == message.RoleSystem {
			r, text = message.RoleUser, CondensedHistoryLabel+"\n"+text
		}
		if text == "" {
			continue
		}
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	flush()

	return system, messages
}
