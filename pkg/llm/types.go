// Package llm provides streaming chat-completion providers for the research
// pipeline. Providers emit raw text chunks over a channel; structured output
// parsing happens downstream in the stream parser.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// StreamChunk is one element of a completion stream. Exactly one of the
// fields is meaningful: Text for content, Usage on the final chunk before
// close, Err for a terminal failure.
type StreamChunk struct {
	Text  string
	Usage *Usage
	Err   error
}

// Provider streams chat completions. Implementations must preserve chunk
// order, never silently truncate, and close the channel when the stream
// ends (after sending a Usage or Err chunk if available).
type Provider interface {
	Name() string
	ModelName() string
	StreamCompletion(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}

// ErrIdleTimeout is returned by Drain when the stream goes silent for longer
// than the configured idle interval.
var ErrIdleTimeout = errors.New("llm stream idle timeout")

// Drain consumes a completion stream into a single string, enforcing a
// maximum gap between consecutive chunks. A zero idle disables the timer.
func Drain(ctx context.Context, ch <-chan StreamChunk, idle time.Duration) (string, Usage, error) {
	var (
		buf   []byte
		usage Usage
		timer *time.Timer
	)

	var timeout <-chan time.Time
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return string(buf), usage, ctx.Err()
		case <-timeout:
			return string(buf), usage, fmt.Errorf("%w after %v", ErrIdleTimeout, idle)
		case chunk, ok := <-ch:
			if !ok {
				return string(buf), usage, nil
			}
			if chunk.Err != nil {
				return string(buf), usage, chunk.Err
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			buf = append(buf, chunk.Text...)
			if timer != nil {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(idle)
			}
		}
	}
}
