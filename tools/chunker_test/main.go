package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/reporthub/backend-go/internal/retrieval"
)

// 分块调试工具：对一段文本执行检索子系统的分块策略并打印各块边界，
// 用于人工检查切分点是否落在句子边界上。
func main() {
	var (
		maxSize = flag.Int("max", retrieval.DefaultMaxChunkSize, "单个分块的最大rune数")
		file    = flag.String("file", "", "待分块的文本文件，缺省时读取标准输入")
	)
	flag.Parse()

	var text string
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取文件失败: %v\n", err)
			os.Exit(1)
		}
		text = string(data)
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取标准输入失败: %v\n", err)
			os.Exit(1)
		}
		text = string(data)
	}

	chunks := retrieval.SplitText(text, *maxSize)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("分块配置: max=%d\n", *maxSize)
	fmt.Printf("原始文本长度: %d rune\n", len([]rune(text)))
	fmt.Printf("分块数量: %d\n", len(chunks))
	fmt.Println(strings.Repeat("=", 80))

	total := 0
	for i, chunk := range chunks {
		n := len([]rune(chunk))
		total += n
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("块 #%d: %d rune\n", i, n)
		fmt.Println(chunk)
		if runes := []rune(chunk); len(runes) > 0 && runes[len(runes)-1] != '.' {
			fmt.Println("  注意: 此块以硬切结尾，不在句号边界上")
		}
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("分块总rune数: %d (原始: %d, 差异来自边界空白)\n", total, len([]rune(text)))
}
