package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseOpenAIHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	headers.Set("x-ratelimit-remaining-requests", "42")
	headers.Set("x-ratelimit-remaining-tokens", "90000")

	info := ParseOpenAIHeaders(headers)
	if info.RetryAfter != 30*time.Second {
		t.Errorf("expected RetryAfter=30s, got %v", info.RetryAfter)
	}
	if info.RequestsRemaining != 42 {
		t.Errorf("expected RequestsRemaining=42, got %d", info.RequestsRemaining)
	}
	if info.TokensRemaining != 90000 {
		t.Errorf("expected TokensRemaining=90000, got %d", info.TokensRemaining)
	}
}

func TestParseAnthropicHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	headers := http.Header{}
	headers.Set("retry-after", "5")
	headers.Set("anthropic-ratelimit-requests-reset", reset)
	headers.Set("anthropic-ratelimit-requests-remaining", "10")

	info := ParseAnthropicHeaders(headers)
	if info.RetryAfter != 5*time.Second {
		t.Errorf("expected RetryAfter=5s, got %v", info.RetryAfter)
	}
	if info.ResetTime == 0 {
		t.Error("expected ResetTime to be parsed")
	}
	if info.RequestsRemaining != 10 {
		t.Errorf("expected RequestsRemaining=10, got %d", info.RequestsRemaining)
	}
}

func TestParseHeadersEmpty(t *testing.T) {
	if info := ParseOpenAIHeaders(http.Header{}); info != (RateLimitInfo{}) {
		t.Errorf("expected zero info, got %+v", info)
	}
	if info := ParseAnthropicHeaders(http.Header{}); info != (RateLimitInfo{}) {
		t.Errorf("expected zero info, got %+v", info)
	}
}
