// Package utils provides small shared helpers: token counting, text
// truncation and filesystem setup.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for a specific model using tiktoken.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model. Unknown models fall
// back to cl100k_base, which is close enough for budget decisions.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()
	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountConversation counts tokens across role/content pairs, including the
// per-message format overhead of chat APIs.
func (tc *TokenCounter) CountConversation(pairs [][2]string) int {
	const tokensPerMessage = 3

	total := 3 // reply priming
	for _, p := range pairs {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(p[0], nil, nil))
		total += len(tc.encoding.Encode(p[1], nil, nil))
	}
	return total
}

// Model returns the model name this counter is configured for.
func (tc *TokenCounter) Model() string {
	return tc.model
}

// EstimateTokens gives a rough count without an encoder, about 4 chars per
// token. Used where precision does not matter.
func EstimateTokens(text string) int {
	return len(text) / 4
}
