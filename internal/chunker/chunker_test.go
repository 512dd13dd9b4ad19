package chunker

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_Offsets(t *testing.T) {
	// 1200 字符, chunkSize=500, overlap=100 → 起点 0/400/800 共 3 个分块
	text := strings.Repeat("a", 1200)
	chunks := Split(text, 500, 100, 0)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 500 || len(chunks[1]) != 500 {
		t.Errorf("expected full chunks of 500, got %d and %d", len(chunks[0]), len(chunks[1]))
	}
	if len(chunks[2]) != 400 {
		t.Errorf("expected last chunk of 400, got %d", len(chunks[2]))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 500 {
			t.Errorf("chunk %d exceeds chunkSize: %d", i, utf8.RuneCountInString(c))
		}
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	if got := Split("", 500, 100, 0); len(got) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(got))
	}
	if got := Split("   \n\t  ", 500, 100, 0); len(got) != 0 {
		t.Errorf("expected no chunks for whitespace-only input, got %d", len(got))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)
	first := Split(text, 120, 30, 10)
	second := Split(text, 120, 30, 10)
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical output for identical input and config")
	}
}

func TestSplit_MaxChunksCap(t *testing.T) {
	text := strings.Repeat("b", 10000)
	chunks := Split(text, 500, 100, 2)
	if len(chunks) != 2 {
		t.Errorf("expected chunk count capped at 2, got %d", len(chunks))
	}
}

func TestSplit_TrimsAndSkipsBlankWindows(t *testing.T) {
	// 中间窗口全为空白时应跳过，但游标照常前进
	text := "ab" + strings.Repeat(" ", 8) + "cd"
	chunks := Split(text, 4, 2, 0)
	for i, c := range chunks {
		if c == "" {
			t.Errorf("chunk %d is empty after trimming", i)
		}
		if c != strings.TrimSpace(c) {
			t.Errorf("chunk %d is not trimmed: %q", i, c)
		}
	}
}

func TestSplit_InvalidOverlapFallsBack(t *testing.T) {
	text := strings.Repeat("c", 10)
	// overlap=0 非法，退化为无重叠切分
	chunks := Split(text, 4, 0, 0)
	expected := []string{"cccc", "cccc", "cc"}
	if !reflect.DeepEqual(chunks, expected) {
		t.Errorf("expected %v, got %v", expected, chunks)
	}
}

func TestSplit_RuneBased(t *testing.T) {
	// 多字节字符按 rune 计数，不能把字符切坏
	text := strings.Repeat("知识库检索", 100) // 500 runes
	chunks := Split(text, 200, 50, 0)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d contains invalid UTF-8", i)
		}
		if utf8.RuneCountInString(c) > 200 {
			t.Errorf("chunk %d exceeds 200 runes", i)
		}
	}
}
