package streamjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(text string) *Scanner {
	s := NewScanner()
	s.Write(text)
	return s
}

func TestScannerPlainObject(t *testing.T) {
	obj, err := scanAll(`{"a": 1, "b": [2, 3]}`).Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":[2,3]}`, string(obj))
}

func TestScannerWithFencesAndProse(t *testing.T) {
	text := "Here is the result:\n```json\n{\"summary\": \"ok\"}\n```\nLet me know if you need more."
	obj, err := scanAll(text).Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(obj))
}

func TestScannerBracesInsideStrings(t *testing.T) {
	obj, err := scanAll(`{"text": "a { tricky } \"quoted\" value with \\ escapes"}`).Close()
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(obj, &decoded))
	assert.Equal(t, `a { tricky } "quoted" value with \ escapes`, decoded["text"])
}

func TestScannerNoObject(t *testing.T) {
	_, err := scanAll("just prose, no json here").Close()
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestScannerEmitsAcrossChunkBoundaries(t *testing.T) {
	s := NewScanner()

	assert.Empty(t, s.Write(`{"findings": {"summ`))
	assert.True(t, s.Pending())
	assert.Empty(t, s.Write(`ary": "partial"}, "requests": [{"id"`))
	completed := s.Write(`: "r1"}]} trailing prose`)

	require.Len(t, completed, 1)
	assert.JSONEq(t, `{"findings":{"summary":"partial"},"requests":[{"id":"r1"}]}`, string(completed[0]))
	assert.False(t, s.Pending())
}

func TestScannerMultipleObjects(t *testing.T) {
	s := NewScanner()
	first := s.Write(`{"a":1}`)
	second := s.Write(`between {"b":2}`)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Len(t, s.Objects(), 2)

	last, err := s.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(last))
}

func TestScannerCloseUnparseable(t *testing.T) {
	s := NewScanner()
	s.Write(`{"never": "closed"`)
	_, err := s.Close()
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.Equal(t, `{"never": "closed"`, s.Raw())
}

func TestScannerRejectsMalformedBalancedText(t *testing.T) {
	s := NewScanner()
	// Balanced braces but invalid JSON must not be emitted.
	completed := s.Write(`{not json at all}`)
	assert.Empty(t, completed)

	_, err := s.Close()
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestScannerRecoversFromUnmatchedBraceInProse(t *testing.T) {
	s := NewScanner()
	// The stray "{" in the prose opens a capture that never rebalances;
	// Close must still find the real object behind it.
	s.Write("given f(x) = { x > 0 for all x, the result is ")
	s.Write(`{"answer": 42}`)

	obj, err := s.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": 42}`, string(obj))
}
