package ingestion_engine

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func TestSplitText_ShortTextIsOneChunk(t *testing.T) {
	chunks, err := SplitText(context.Background(), "Author: Jane Doe\n\nA short note.", 200, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Pos)
	assert.Equal(t, "Author: Jane Doe\nA short note.", chunks[0].Text)
}

func TestSplitText_Overlap(t *testing.T) {
	var lines []string
	for i := range 12 {
		lines = append(lines, "line "+strconv.Itoa(i)+" has some words in it")
	}
	chunks, err := SplitText(context.Background(), strings.Join(lines, "\n"), 20, 8)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i, c := range chunks {
		assert.Equal(t, i, c.Pos)
		assert.Positive(t, c.TokenCnt)
	}
	// Each chunk after the first starts with the tail of the previous one.
	for i := 1; i < len(chunks); i++ {
		prev := strings.Split(chunks[i-1].Text, "\n")
		cur := strings.Split(chunks[i].Text, "\n")
		assert.Contains(t, prev[1:], cur[0])
		assert.NotEqual(t, chunks[i-1].Text, chunks[i].Text)
	}
	// Every line survives.
	joined := ""
	for _, c := range chunks {
		joined += c.Text + "\n"
	}
	for _, l := range lines {
		assert.Contains(t, joined, l)
	}
}

func TestSplitText_NoTrailingOverlapOnlyChunk(t *testing.T) {
	text := strings.Repeat("x", 80) + "\n" + strings.Repeat("y", 80)
	chunks, err := SplitText(context.Background(), text, 20, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 80), chunks[0].Text)
	assert.Equal(t, strings.Repeat("y", 80), chunks[1].Text)
}

func TestSplitText_LongLineIsSplit(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks, err := SplitText(context.Background(), long, 10, 0)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 5)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCnt, 20)
	}
}

func TestSplitText_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SplitText(ctx, strings.Repeat("line of text\n", 500), 5, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitLong(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitLong("short", 10))

	parts := splitLong(strings.Repeat("a", 50), 5)
	assert.Equal(t, []string{strings.Repeat("a", 20), strings.Repeat("a", 20), strings.Repeat("a", 10)}, parts)

	for _, p := range splitLong("alpha beta gamma delta epsilon zeta eta theta", 3) {
		assert.LessOrEqual(t, approxTokens(p), 3)
	}
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abc"))
	assert.Equal(t, 1, approxTokens("abcd"))
	assert.Equal(t, 2, approxTokens("abcde"))
	assert.Equal(t, 1, approxTokens("日本語"))
}
