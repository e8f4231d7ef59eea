package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOpenAIBaseURL = "https://api.deepseek.com/v1"
	DefaultOpenAIModel   = "deepseek-chat"

	maxSSELine       = 1 << 20
	maxErrorBodySize = 64 << 10
)

// OpenAICaller talks to an OpenAI-compatible chat completions endpoint.
type OpenAICaller struct {
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewOpenAICaller(apiKey, model, baseURL string) (*OpenAICaller, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("OpenAI-compatible API key not configured")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAICaller{Model: model, APIKey: strings.TrimSpace(apiKey), BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (o *OpenAICaller) ModelName() string { return o.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int64         `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (o *OpenAICaller) post(ctx context.Context, p Prompt, stream bool) (*http.Response, error) {
	var messages []chatMessage
	if p.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: p.User})

	body, err := json.Marshal(chatRequest{
		Model:       o.Model,
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (o *OpenAICaller) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := o.post(ctx, p, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream reads server-sent events until [DONE] or end of body.
func (o *OpenAICaller) Stream(ctx context.Context, p Prompt, onFragment func(string)) (string, error) {
	resp, err := o.post(ctx, p, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	events := newSSEReader(resp.Body)
	for {
		payload, err := events.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			sb.WriteString(c.Delta.Content)
			if onFragment != nil {
				onFragment(c.Delta.Content)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// sseReader yields the data payload of each server-sent event. Comment
// lines and non-data fields are skipped; [DONE] ends the stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxSSELine)
	return &sseReader{scanner: s}
}

func (r *sseReader) next() (string, error) {
	var data []string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if d == "[DONE]" {
				return "", io.EOF
			}
			data = append(data, d)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}
	if len(data) > 0 {
		return strings.Join(data, "\n"), nil
	}
	return "", io.EOF
}
