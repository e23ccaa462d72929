package research

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/streamjson"
	"github.com/fathom-agent/fathom/pkg/utils"
)

// streamResult is the outcome of one completed LLM stream.
type streamResult struct {
	scanner *streamjson.Scanner
	usage   llm.Usage
}

// streamOnce runs one streaming completion to the end, feeding every chunk
// to the scanner and the UI. An idle gap longer than the configured timeout
// aborts the stream with a transport-class error.
func (r *run) streamOnce(ctx context.Context, messages []llm.Message) (*streamResult, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := r.o.provider.StreamCompletion(streamCtx, messages)
	if err != nil {
		return nil, &transportError{err: err}
	}

	scanner := streamjson.NewScanner()
	result := &streamResult{scanner: scanner}
	idle := r.o.cfg.LLM.IdleTimeout

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			drainStream(ch)
			return nil, ctx.Err()
		case <-timer.C:
			cancel()
			drainStream(ch)
			return nil, &transportError{err: fmt.Errorf("%w after %v", llm.ErrIdleTimeout, idle)}
		case chunk, ok := <-ch:
			if !ok {
				if result.usage.Total() == 0 {
					result.usage = r.estimateUsage(messages, scanner.Raw())
				}
				return result, nil
			}
			if chunk.Err != nil {
				return nil, &transportError{err: chunk.Err}
			}
			if chunk.Usage != nil {
				result.usage = *chunk.Usage
			}
			if chunk.Text != "" {
				scanner.Write(chunk.Text)
				r.o.bus.DisplayStream(chunk.Text)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		}
	}
}

// drainStream discards the rest of an abandoned stream in the background.
// Providers send into a bounded channel; without a consumer the producer
// goroutine stays blocked on send and pins the response body after the
// stream context is cancelled.
func drainStream(ch <-chan llm.StreamChunk) {
	go func() {
		_, _, _ = llm.Drain(context.Background(), ch, 0)
	}()
}

// invoke streams a completion and returns its last JSON object, retrying
// transport failures with exponential backoff. Parse failures are returned
// as streamjson.ErrUnparseable without retry.
func (r *run) invoke(ctx context.Context, phase string, messages []llm.Message) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= r.o.cfg.LLM.MaxRetries; attempt++ {
		if attempt > 0 {
			r.o.metrics.LLMRetries.Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * r.o.retryBaseDelay
			r.o.logger.Warn("Retrying LLM call",
				"phase", phase, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.streamOnce(ctx, messages)
		if err != nil {
			if isTransport(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		r.recordUsage(result.usage)
		r.o.bus.ClearStreamBuffer()

		obj, err := result.scanner.Close()
		if err != nil {
			r.o.metrics.LLMRequests.WithLabelValues(r.o.provider.Name(), "unparseable").Inc()
			return nil, err
		}
		r.o.metrics.LLMRequests.WithLabelValues(r.o.provider.Name(), "ok").Inc()
		return obj, nil
	}

	r.o.metrics.LLMRequests.WithLabelValues(r.o.provider.Name(), "transport_error").Inc()
	return nil, fmt.Errorf("%w: %v", ErrLLMTransport, lastErr)
}

// invokeInto decodes the phase response into v.
func (r *run) invokeInto(ctx context.Context, phase string, messages []llm.Message, v any) error {
	obj, err := r.invoke(ctx, phase, messages)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", phase, err)
	}
	return nil
}

// estimateUsage approximates token usage for providers that omit usage
// frames from their streams. Cost records stay populated either way.
func (r *run) estimateUsage(messages []llm.Message, completion string) llm.Usage {
	tc, err := utils.NewTokenCounter(r.o.provider.ModelName())
	if err != nil {
		prompt := 0
		for _, m := range messages {
			prompt += utils.EstimateTokens(m.Content)
		}
		return llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: utils.EstimateTokens(completion),
		}
	}

	pairs := make([][2]string, len(messages))
	for i, m := range messages {
		pairs[i] = [2]string{m.Role, m.Content}
	}
	return llm.Usage{
		PromptTokens:     tc.CountConversation(pairs),
		CompletionTokens: tc.Count(completion),
	}
}

// recordUsage accumulates token usage into session cost and metrics.
func (r *run) recordUsage(usage llm.Usage) {
	if usage.Total() == 0 {
		return
	}
	provider := r.o.provider.Name()
	r.o.metrics.LLMTokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	r.o.metrics.LLMTokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))

	if err := r.sess.AddCost(model.CostBreakdown{
		Model:            r.o.provider.ModelName(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.Total(),
		Calls:            1,
	}); err != nil {
		r.o.logger.Warn("Failed to record cost", "error", err)
	}
}
