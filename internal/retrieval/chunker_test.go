package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInput(t *testing.T) {
	chunks := SplitText("  A short report.  ", 500)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short report.", chunks[0])
}

func TestSplitTextEmptyInput(t *testing.T) {
	assert.Empty(t, SplitText("", 500))
	assert.Empty(t, SplitText("   \n\t  ", 500))
}

func TestSplitTextCutsAtSentenceBoundary(t *testing.T) {
	// 两句话共超过限制，应在句号后断开
	first := strings.Repeat("a", 40) + "."
	second := strings.Repeat("b", 30) + "."
	chunks := SplitText(first+" "+second, 50)

	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, second, chunks[1])
}

func TestSplitTextHardCutWithoutPeriod(t *testing.T) {
	text := strings.Repeat("x", 120)
	chunks := SplitText(text, 50)

	require.Len(t, chunks, 3)
	assert.Equal(t, 50, len([]rune(chunks[0])))
	assert.Equal(t, 50, len([]rune(chunks[1])))
	assert.Equal(t, 20, len([]rune(chunks[2])))
}

func TestSplitTextMaxSizeBound(t *testing.T) {
	// 1200字符、限制500：三个分块，每块不超过500
	text := strings.Repeat("r", 1200)
	chunks := SplitText(text, 500)

	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 500)
	}
}

func TestSplitTextReconstruction(t *testing.T) {
	text := "First sentence about work. Second sentence about progress. " +
		strings.Repeat("filler ", 100) + "Final words."
	chunks := SplitText(text, 80)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotEmpty(t, chunk)
		assert.Equal(t, strings.TrimSpace(chunk), chunk)
		assert.LessOrEqual(t, len([]rune(chunk)), 80)
	}

	// 去掉空白后内容应无增无减
	joined := strings.Join(chunks, "")
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), "")
	}
	assert.Equal(t, normalize(text), normalize(joined))
}

func TestSplitTextMultibyteRunes(t *testing.T) {
	// 多字节文本按字符计数，不能把单个字符切成两半
	text := strings.Repeat("报", 130)
	chunks := SplitText(text, 50)

	require.Len(t, chunks, 3)
	assert.Equal(t, 50, len([]rune(chunks[0])))
	for _, chunk := range chunks {
		for _, r := range chunk {
			assert.Equal(t, '报', r)
		}
	}
}

func TestSplitTextDefaultSize(t *testing.T) {
	text := strings.Repeat("y", DefaultMaxChunkSize+10)
	chunks := SplitText(text, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, DefaultMaxChunkSize, len([]rune(chunks[0])))
}

func TestSplitTextSkipsEmptyChunks(t *testing.T) {
	// 连续句号不应产生空分块
	text := strings.Repeat("a", 48) + ".. " + strings.Repeat("b", 20)
	for _, chunk := range SplitText(text, 50) {
		assert.NotEmpty(t, chunk)
	}
}
