package retrieval

import "strings"

// DefaultMaxChunkSize 默认分块上限（以rune计）
const DefaultMaxChunkSize = 500

// SplitText 把长文本切分为有序的句子友好分块
// 策略：每次取最多maxSize个rune的前缀，在前缀内最后一个句号处切分，
// 找不到句号则在maxSize处硬切；两侧去空白后继续处理剩余文本，
// 非空的尾部作为最后一块。分块边界决定了后续相似检索能召回的上下文，
// 这里的贪心策略必须保持稳定。
func SplitText(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}

	remaining := strings.TrimSpace(text)
	if remaining == "" {
		return nil
	}

	var chunks []string
	runes := []rune(remaining)

	for len(runes) > maxSize {
		cut := lastPeriodIndex(runes[:maxSize])
		if cut >= 0 {
			// 句号留在左侧分块末尾，保证拼接可还原原文
			cut++
		} else {
			cut = maxSize
		}

		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}

	if len(runes) > 0 {
		tail := strings.TrimSpace(string(runes))
		if tail != "" {
			chunks = append(chunks, tail)
		}
	}

	return chunks
}

func lastPeriodIndex(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '.' {
			return i
		}
	}
	return -1
}
