package format

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// PreprocessAssistantText normalizes model output before rendering.
func PreprocessAssistantText(text string) string {
	if text == "" {
		return text
	}

	// Replace curly quotes (helps readability)
	return strings.NewReplacer(
		"“", "\"",
		"”", "\"",
		"‘", "'",
		"’", "'",
	).Replace(text)
}

// ToHTML renders model markdown: fenced code blocks, bold, lists and links.
// Raw HTML in the input is dropped.
func ToHTML(text string) string {
	text = PreprocessAssistantText(text)

	// Parsers carry state, so each call needs its own.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML,
	})

	out := markdown.ToHTML([]byte(text), p, renderer)
	return strings.TrimSpace(string(out))
}
