package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/reporthub/backend-go/internal/retrieval"
)

// 报告文本提取工具：用上传接口同一套解析器把pdf/docx/txt文件转成
// 报告正文，便于在导入前检查提取质量。-chunks同时预览分块结果。
func main() {
	var (
		output    = flag.String("o", "", "输出文件，缺省打印到标准输出")
		chunks    = flag.Bool("chunks", false, "同时打印分块预览")
		chunkSize = flag.Int("max", retrieval.DefaultMaxChunkSize, "分块预览的最大rune数")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "用法: report-extract [-o out.txt] [-chunks] <文件>\n")
		manager := retrieval.NewFileParserManager()
		fmt.Fprintf(os.Stderr, "支持的格式: %s\n", strings.Join(manager.SupportedFormats(), ", "))
		os.Exit(2)
	}

	path := flag.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开文件失败: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	manager := retrieval.NewFileParserManager()
	if !manager.Supports(path) {
		fmt.Fprintf(os.Stderr, "不支持的文件格式: %s (支持: %s)\n",
			path, strings.Join(manager.SupportedFormats(), ", "))
		os.Exit(1)
	}

	text, err := manager.ParseFile(file, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析失败: %v\n", err)
		os.Exit(1)
	}
	text = strings.TrimSpace(text)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(text), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "写出失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("已写出 %d rune 到 %s\n", len([]rune(text)), *output)
	} else {
		fmt.Println(text)
	}

	if *chunks {
		parts := retrieval.SplitText(text, *chunkSize)
		fmt.Fprintf(os.Stderr, "\n--- 分块预览: %d 块 (max=%d) ---\n", len(parts), *chunkSize)
		for i, part := range parts {
			fmt.Fprintf(os.Stderr, "[%d] %d rune: %.80s...\n", i, len([]rune(part)), part)
		}
	}
}
