// Package llm holds the text-generation collaborators. Callers always get
// one complete string back; streamed fragments are concatenated here.
package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

// Prompt is one generation request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int64
	Temperature float64
}

// Generator produces a complete response for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Streamer is a Generator that can also report fragments as they arrive.
// The returned string is the concatenation of every fragment.
type Streamer interface {
	Generator
	Stream(ctx context.Context, p Prompt, onFragment func(string)) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// Complete runs p on g, streaming when g supports it and onFragment is set.
func Complete(ctx context.Context, g Generator, p Prompt, onFragment func(string)) (string, error) {
	if s, ok := g.(Streamer); ok && onFragment != nil {
		return s.Stream(ctx, p, onFragment)
	}
	return g.Generate(ctx, p)
}

// TextOf flattens the response shapes seen from model clients into plain
// text.
func TextOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case []string:
		return strings.Join(t, "")
	case *anthropic.Message:
		if t == nil {
			return ""
		}
		return messageText(t)
	case anthropic.Message:
		return messageText(&t)
	case interface{ Text() string }:
		return t.Text()
	case interface{ Content() string }:
		return t.Content()
	case fmt.Stringer:
		return t.String()
	case []any:
		var b strings.Builder
		for _, item := range t {
			b.WriteString(TextOf(item))
		}
		return b.String()
	case map[string]any:
		for _, key := range []string{"content", "text", "output"} {
			if inner, ok := t[key]; ok {
				return TextOf(inner)
			}
		}
		return ""
	}
	return fmt.Sprint(v)
}

func messageText(m *anthropic.Message) string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
