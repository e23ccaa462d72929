package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/httpclient"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider streams chat completions from the Anthropic Messages API.
type AnthropicProvider struct {
	cfg        config.LLMConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	return &AnthropicProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) Name() string      { return "anthropic" }
func (p *AnthropicProvider) ModelName() string { return p.cfg.Model }

func (p *AnthropicProvider) StreamCompletion(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages)

	resp, err := p.post(ctx, request)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := p.readStream(resp.Body, out); err != nil {
			out <- StreamChunk{Err: err}
		}
	}()
	return out, nil
}

// buildRequest lifts system messages into the top-level system field; the
// Messages API rejects role=system entries in the messages array.
func (p *AnthropicProvider) buildRequest(messages []Message) anthropicRequest {
	var systemParts []string
	converted := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		role := msg.Role
		if role != RoleAssistant {
			role = "user"
		}
		converted = append(converted, anthropicMessage{Role: role, Content: msg.Content})
	}

	return anthropicRequest{
		Model:       p.cfg.Model,
		Messages:    converted,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Stream:      true,
		System:      strings.Join(systemParts, "\n\n"),
	}
}

func (p *AnthropicProvider) post(ctx context.Context, request anthropicRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

func (p *AnthropicProvider) readStream(body io.Reader, out chan<- StreamChunk) error {
	var usage Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var streamResp anthropicStreamResponse
		if err := json.Unmarshal([]byte(payload), &streamResp); err != nil {
			return fmt.Errorf("failed to decode streaming response: %w", err)
		}

		switch streamResp.Type {
		case "error":
			if streamResp.Error != nil {
				return fmt.Errorf("anthropic API error: %s", streamResp.Error.Message)
			}
			return fmt.Errorf("anthropic API error")

		case "message_start":
			if streamResp.Message != nil {
				usage.PromptTokens = streamResp.Message.Usage.InputTokens
			}

		case "content_block_delta":
			if streamResp.Delta != nil && streamResp.Delta.Text != "" {
				out <- StreamChunk{Text: streamResp.Delta.Text}
			}

		case "message_delta":
			if streamResp.Usage != nil {
				usage.CompletionTokens = streamResp.Usage.OutputTokens
			}

		case "message_stop":
			out <- StreamChunk{Usage: &usage}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}

	out <- StreamChunk{Usage: &usage}
	return nil
}
