package nethtml

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Converter turns an HTML document into markdown suitable for the
// structural chunker: headings keep their levels, lists and code blocks
// keep their shape, everything presentational is dropped.
type Converter struct{}

func New() *Converter {
	return &Converter{}
}

func (c *Converter) Convert(raw []byte) (string, error) {
	root, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	renderBlock(&b, root)

	out := collapseBlankLines(b.String())
	return strings.TrimSpace(out) + "\n", nil
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "head": true, "noscript": true,
	"iframe": true, "svg": true, "nav": true,
}

func renderBlock(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode && skippedElements[n.Data] {
		return
	}

	switch {
	case n.Type == html.ElementNode && isHeading(n.Data):
		level := int(n.Data[1] - '0')
		text := inlineText(n)
		if text != "" {
			fmt.Fprintf(b, "\n%s %s\n\n", strings.Repeat("#", level), text)
		}
		return
	case n.Type == html.ElementNode && n.Data == "p":
		if text := inlineText(n); text != "" {
			b.WriteString("\n" + text + "\n\n")
		}
		return
	case n.Type == html.ElementNode && n.Data == "pre":
		code := rawText(n)
		if strings.TrimSpace(code) != "" {
			b.WriteString("\n```\n" + strings.Trim(code, "\n") + "\n```\n\n")
		}
		return
	case n.Type == html.ElementNode && (n.Data == "ul" || n.Data == "ol"):
		renderList(b, n, n.Data == "ol")
		return
	case n.Type == html.ElementNode && n.Data == "blockquote":
		text := inlineText(n)
		if text != "" {
			b.WriteString("\n> " + text + "\n\n")
		}
		return
	case n.Type == html.ElementNode && (n.Data == "br" || n.Data == "hr"):
		b.WriteString("\n")
		return
	case n.Type == html.TextNode:
		if text := strings.TrimSpace(collapseSpaces(n.Data)); text != "" {
			b.WriteString(text + "\n")
		}
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderBlock(b, child)
	}
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

func renderList(b *strings.Builder, list *html.Node, ordered bool) {
	b.WriteString("\n")
	index := 0
	for child := list.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || child.Data != "li" {
			continue
		}
		index++
		text := inlineText(child)
		if text == "" {
			continue
		}
		if ordered {
			fmt.Fprintf(b, "%d. %s\n", index, text)
		} else {
			b.WriteString("- " + text + "\n")
		}
	}
	b.WriteString("\n")
}

// inlineText flattens phrasing content: emphasis, links and inline code
// keep markdown markers, nested block noise collapses into spaces.
func inlineText(n *html.Node) string {
	var b strings.Builder
	renderInline(&b, n)
	return strings.TrimSpace(collapseSpaces(b.String()))
}

func renderInline(b *strings.Builder, n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch {
		case child.Type == html.TextNode:
			b.WriteString(collapseSpaces(child.Data))
		case child.Type != html.ElementNode || skippedElements[child.Data]:
			continue
		case child.Data == "a":
			text := inlineText(child)
			href := attr(child, "href")
			if text == "" {
				continue
			}
			if href == "" || strings.HasPrefix(href, "#") {
				b.WriteString(text)
			} else {
				fmt.Fprintf(b, "[%s](%s)", text, href)
			}
		case child.Data == "strong" || child.Data == "b":
			if text := inlineText(child); text != "" {
				b.WriteString("**" + text + "**")
			}
		case child.Data == "em" || child.Data == "i":
			if text := inlineText(child); text != "" {
				b.WriteString("*" + text + "*")
			}
		case child.Data == "code":
			if text := rawText(child); strings.TrimSpace(text) != "" {
				b.WriteString("`" + strings.TrimSpace(text) + "`")
			}
		case child.Data == "br":
			b.WriteString(" ")
		default:
			renderInline(b, child)
		}
	}
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// collapseSpaces squeezes whitespace runs to single spaces while
// keeping boundary spaces, so adjacent inline runs stay separated.
func collapseSpaces(s string) string {
	if s == "" {
		return s
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return " "
	}
	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.Join(out, "\n")
}
