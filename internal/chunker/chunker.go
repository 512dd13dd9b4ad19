// Package chunker 提供纯函数的文本分块实现。
package chunker

import "strings"

// Split 将长文本按固定窗口大小与重叠量切分为有序的分块序列。
// 游标每次前进 chunkSize-overlap 个 rune；每个窗口先 Trim 空白，
// Trim 后为空的窗口跳过但游标照常前进。达到 maxChunks 后剩余文本
// 被静默丢弃（这是刻意的上限，不是错误）。
// 当 overlap 不满足 0 < overlap < chunkSize 时退化为无重叠的简单切分。
// 纯函数：无 I/O、无错误返回，相同输入恒产生相同输出。
func Split(text string, chunkSize, overlap, maxChunks int) []string {
	if chunkSize <= 0 {
		return nil
	}
	if overlap <= 0 || overlap >= chunkSize {
		return simpleSplit(text, chunkSize, maxChunks)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := chunkSize - overlap
	for start := 0; start < len(runes); start += step {
		if maxChunks > 0 && len(chunks) >= maxChunks {
			break
		}
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// simpleSplit 是 overlap 配置非法时的兜底：按 chunkSize 顺序切分。
func simpleSplit(text string, chunkSize, maxChunks int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(runes); start += chunkSize {
		if maxChunks > 0 && len(chunks) >= maxChunks {
			break
		}
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
