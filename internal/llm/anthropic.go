package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)

const defaultMaxTokens = 8192

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicStreamer interface {
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

type AnthropicCaller struct {
	messages AnthropicMessager
	streamer AnthropicStreamer
	model    string
}

// NewAnthropicCaller builds a caller on the SDK client.
func NewAnthropicCaller(apiKey, model, baseURL string) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := anthropic.NewClient(opts...)
	return NewAnthropicCallerWith(&c.Messages, &c.Messages, model), nil
}

// NewAnthropicCallerWith wires explicit messagers; streamer may be nil.
func NewAnthropicCallerWith(messages AnthropicMessager, streamer AnthropicStreamer, model string) *AnthropicCaller {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicCaller{messages: messages, streamer: streamer, model: model}
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) params(p Prompt) anthropic.MessageNewParams {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(p.User))},
		Temperature: anthropic.Float(p.Temperature),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	return params
}

func (a *AnthropicCaller) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := a.messages.New(ctx, a.params(p))
	if err != nil {
		return "", err
	}
	return TextOf(resp), nil
}

// Stream emits text deltas as they arrive. Without a streaming client the
// whole response is emitted as one fragment.
func (a *AnthropicCaller) Stream(ctx context.Context, p Prompt, onFragment func(string)) (string, error) {
	if a.streamer == nil {
		text, err := a.Generate(ctx, p)
		if err == nil && onFragment != nil {
			onFragment(text)
		}
		return text, err
	}

	stream := a.streamer.NewStreaming(ctx, a.params(p))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		sb.WriteString(text.Text)
		if onFragment != nil {
			onFragment(text.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
