package chunking

import (
	"regexp"
	"strings"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

var paragraphSep = regexp.MustCompile(`\n[ \t]*\n+`)

// MarkdownChunker splits converted markdown into bounded segments that
// keep their heading-hierarchy context. Segments within a section carry
// exact byte offsets into the source; chunks packed out of an
// over-threshold section carry approximate offsets derived from running
// character counts of the reassembled paragraphs. Downstream consumers
// treat offsets as best-effort locators, not exact spans.
type MarkdownChunker struct {
	DefaultThreshold int
}

func NewMarkdownChunker(defaultThreshold int) *MarkdownChunker {
	if defaultThreshold <= 0 {
		defaultThreshold = 1500
	}
	return &MarkdownChunker{DefaultThreshold: defaultThreshold}
}

// section is one heading-delimited region of the source document.
// Content before the first heading forms a level-0, titleless section;
// a document without any heading becomes a single level-0 section.
type section struct {
	level      int
	title      string
	breadcrumb string // ancestor titles only, ">"-joined
	bodyStart  int
	bodyEnd    int
}

type headingFrame struct {
	level int
	title string
}

// Chunk splits text into ordered segments no longer than threshold
// characters, except when a single paragraph alone exceeds it (a
// paragraph is never split). A non-positive threshold falls back to the
// chunker default.
func (c *MarkdownChunker) Chunk(text string, threshold int) []domain.Segment {
	if threshold <= 0 {
		threshold = c.DefaultThreshold
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sections := parseSections(text)

	var segments []domain.Segment
	for _, sec := range sections {
		segments = append(segments, chunkSection(text, sec, threshold)...)
	}

	// Re-index sequentially across the whole document regardless of
	// section origin.
	for i := range segments {
		segments[i].Position = i
	}
	return segments
}

func parseSections(text string) []section {
	var (
		sections []section
		stack    []headingFrame
	)
	current := section{level: 0, bodyStart: 0}

	offset := 0
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		next := len(text) + 1
		if lineEnd >= 0 {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		} else {
			line = text[offset:]
		}

		if level, title, ok := parseHeading(line); ok {
			current.bodyEnd = offset
			sections = appendSection(sections, current)

			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			titles := make([]string, 0, len(stack))
			for _, frame := range stack {
				titles = append(titles, frame.title)
			}
			stack = append(stack, headingFrame{level: level, title: title})

			// A heading on the final, newline-less line has no body;
			// next would point one past the end of the text.
			bodyStart := next
			if bodyStart > len(text) {
				bodyStart = len(text)
			}
			current = section{
				level:      level,
				title:      title,
				breadcrumb: strings.Join(titles, " > "),
				bodyStart:  bodyStart,
			}
		}

		if next > len(text) {
			break
		}
		offset = next
	}

	current.bodyEnd = len(text)
	return appendSection(sections, current)
}

func appendSection(sections []section, sec section) []section {
	if sec.bodyEnd < sec.bodyStart {
		sec.bodyEnd = sec.bodyStart
	}
	sections = append(sections, sec)
	return sections
}

func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		// Indented four or more spaces: a code block, not a heading.
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title := strings.TrimSpace(strings.TrimRight(rest, "#"))
	return level, title, true
}

func chunkSection(text string, sec section, threshold int) []domain.Segment {
	body := strings.TrimSpace(text[sec.bodyStart:sec.bodyEnd])
	if body == "" {
		return nil
	}

	crumb := sec.breadcrumb
	if sec.title != "" {
		if crumb != "" {
			crumb += " > " + sec.title
		} else {
			crumb = sec.title
		}
	}

	if len(body) <= threshold {
		return []domain.Segment{{
			StartOffset: sec.bodyStart,
			EndOffset:   sec.bodyEnd,
			Content:     body,
			Breadcrumb:  crumb,
		}}
	}

	var segments []domain.Segment
	runStart := sec.bodyStart
	flush := func(chunk string) {
		if chunk == "" {
			return
		}
		segments = append(segments, domain.Segment{
			StartOffset: runStart,
			EndOffset:   runStart + len(chunk),
			Content:     chunk,
			Breadcrumb:  crumb,
		})
		runStart += len(chunk) + 2
	}

	var packed strings.Builder
	for _, para := range paragraphSep.Split(body, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if packed.Len() > 0 && packed.Len()+2+len(para) > threshold {
			flush(packed.String())
			packed.Reset()
		}
		if packed.Len() > 0 {
			packed.WriteString("\n\n")
		}
		packed.WriteString(para)
	}
	flush(packed.String())
	return segments
}
