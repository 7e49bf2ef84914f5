package chunking

import (
	"strings"
	"testing"
)

func TestChunkEmptyInput(t *testing.T) {
	c := NewMarkdownChunker(1500)
	if got := c.Chunk("", 1500); got != nil {
		t.Fatalf("empty input must yield zero segments, got %d", len(got))
	}
	if got := c.Chunk("   \n\t\n  ", 1500); got != nil {
		t.Fatalf("whitespace-only input must yield zero segments, got %d", len(got))
	}
}

func TestChunkNoHeadingFallback(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "just a paragraph\n\nand another one"

	segments := c.Chunk(input, 1500)
	if len(segments) != 1 {
		t.Fatalf("expected one fallback segment, got %d", len(segments))
	}
	if segments[0].Breadcrumb != "" {
		t.Fatalf("fallback segment must be titleless, got breadcrumb %q", segments[0].Breadcrumb)
	}
	if segments[0].Content != input {
		t.Fatalf("fallback content = %q", segments[0].Content)
	}
	if segments[0].StartOffset != 0 || segments[0].EndOffset != len(input) {
		t.Fatalf("fallback offsets = [%d,%d]", segments[0].StartOffset, segments[0].EndOffset)
	}
}

func TestChunkBreadcrumbHierarchy(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "# A\n\nintro text\n\n## B\n\nmiddle text\n\n### C\n\ndeep text\n"

	segments := c.Chunk(input, 1500)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segments), segments)
	}

	if segments[0].Breadcrumb != "A" {
		t.Fatalf("segment 0 breadcrumb = %q, want A", segments[0].Breadcrumb)
	}
	if segments[1].Breadcrumb != "A > B" {
		t.Fatalf("segment 1 breadcrumb = %q, want A > B", segments[1].Breadcrumb)
	}
	if segments[2].Breadcrumb != "A > B > C" {
		t.Fatalf("segment 2 breadcrumb = %q, want A > B > C", segments[2].Breadcrumb)
	}
	if segments[2].Content != "deep text" {
		t.Fatalf("segment 2 content = %q", segments[2].Content)
	}
}

func TestChunkSiblingHeadingPopsStack(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "# A\n\n## B\n\nb text\n\n## D\n\nd text\n"

	segments := c.Chunk(input, 1500)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[1].Breadcrumb != "A > D" {
		t.Fatalf("sibling heading breadcrumb = %q, want A > D", segments[1].Breadcrumb)
	}
}

func TestChunkPreambleBeforeFirstHeading(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "preamble line\n\n# A\n\nbody\n"

	segments := c.Chunk(input, 1500)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Content != "preamble line" || segments[0].Breadcrumb != "" {
		t.Fatalf("preamble segment = %+v", segments[0])
	}
	if segments[0].Position != 0 || segments[1].Position != 1 {
		t.Fatalf("positions not sequential: %d, %d", segments[0].Position, segments[1].Position)
	}
}

func TestChunkOversizedSectionPacksParagraphs(t *testing.T) {
	c := NewMarkdownChunker(1500)
	paraA := strings.Repeat("a", 40)
	paraB := strings.Repeat("b", 40)
	paraC := strings.Repeat("c", 40)
	input := "# T\n\n" + paraA + "\n\n" + paraB + "\n\n" + paraC + "\n"

	segments := c.Chunk(input, 100)
	if len(segments) != 2 {
		t.Fatalf("expected 2 packed chunks, got %d", len(segments))
	}
	if segments[0].Content != paraA+"\n\n"+paraB {
		t.Fatalf("first chunk did not pack two paragraphs: %q", segments[0].Content)
	}
	if segments[1].Content != paraC {
		t.Fatalf("second chunk = %q", segments[1].Content)
	}
	for _, seg := range segments {
		if seg.Breadcrumb != "T" {
			t.Fatalf("packed chunk breadcrumb = %q", seg.Breadcrumb)
		}
	}
	// Offsets are incremental over accumulated text plus separators.
	if segments[1].StartOffset != segments[0].EndOffset+2 {
		t.Fatalf("offsets not incremental: %+v", segments)
	}
}

func TestChunkThresholdRespectedExceptSingleParagraph(t *testing.T) {
	c := NewMarkdownChunker(1500)
	huge := strings.Repeat("x", 500)
	input := "# T\n\nshort one\n\n" + huge + "\n\nshort two\n"

	segments := c.Chunk(input, 100)
	for _, seg := range segments {
		if len(seg.Content) > 100 && seg.Content != huge {
			t.Fatalf("segment over threshold that is not a single oversized paragraph: %d chars", len(seg.Content))
		}
	}
	found := false
	for _, seg := range segments {
		if seg.Content == huge {
			found = true
		}
	}
	if !found {
		t.Fatalf("oversized paragraph must be emitted unsplit")
	}
}

func TestChunkContentCoversInput(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "# A\n\nalpha beta\n\n## B\n\ngamma delta\n\nepsilon zeta\n"

	segments := c.Chunk(input, 20)
	var joined strings.Builder
	for _, seg := range segments {
		joined.WriteString(seg.Content)
		joined.WriteString("\n")
	}
	for _, word := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"} {
		if !strings.Contains(joined.String(), word) {
			t.Fatalf("word %q lost during chunking", word)
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "# A\n\n" + strings.Repeat("para text\n\n", 30)

	first := c.Chunk(input, 80)
	second := c.Chunk(input, 80)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic segment count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content || first[i].StartOffset != second[i].StartOffset {
			t.Fatalf("non-deterministic segment %d", i)
		}
	}
}

func TestChunkIdempotentOnHeadingless(t *testing.T) {
	c := NewMarkdownChunker(1500)
	input := "one paragraph\n\ntwo paragraph\n\nthree paragraph"

	first := c.Chunk(input, 1500)
	if len(first) != 1 {
		t.Fatalf("expected single fallback segment, got %d", len(first))
	}
	second := c.Chunk(first[0].Content, 1500)
	if len(second) != 1 || second[0].Content != first[0].Content {
		t.Fatalf("re-chunking own output changed the partition")
	}
}

func TestChunkTrailingHeadingWithoutNewline(t *testing.T) {
	c := NewMarkdownChunker(1500)

	segments := c.Chunk("some body text\n\n# Trailing Heading", 1500)
	if len(segments) != 1 {
		t.Fatalf("expected only the preamble segment, got %d: %+v", len(segments), segments)
	}
	if segments[0].Content != "some body text" {
		t.Fatalf("preamble content = %q", segments[0].Content)
	}

	// Same shape with the final newline present: the empty section is
	// dropped either way.
	segments = c.Chunk("some body text\n\n# Trailing Heading\n", 1500)
	if len(segments) != 1 {
		t.Fatalf("expected only the preamble segment, got %d", len(segments))
	}

	// A document that is nothing but a bare heading yields no segments.
	if got := c.Chunk("# Only Heading", 1500); got != nil {
		t.Fatalf("bare heading must yield zero segments, got %d", len(got))
	}
}

func TestParseHeadingEdgeCases(t *testing.T) {
	if _, _, ok := parseHeading("    # indented code"); ok {
		t.Fatalf("four-space indented line must not parse as heading")
	}
	if _, _, ok := parseHeading("#nospace"); ok {
		t.Fatalf("hash without space must not parse as heading")
	}
	level, title, ok := parseHeading("### Trailing ###")
	if !ok || level != 3 || title != "Trailing" {
		t.Fatalf("parseHeading = %d, %q, %v", level, title, ok)
	}
}
