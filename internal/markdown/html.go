package markdown

import (
	"bytes"
	"fmt"
	stdhtml "html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

var converter = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	// OCR output keeps the screenshot's line breaks
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

const pageTemplate = `<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>body{max-width:46em;margin:2em auto;padding:0 1em;font-family:-apple-system,"PingFang SC","Microsoft YaHei",sans-serif;line-height:1.7}hr{margin:2em 0}blockquote{color:#a15c00}</style>
</head>
<body>
%s</body>
</html>
`

// RenderHTML converts Markdown to a standalone HTML page for previewing
func RenderHTML(title, md string) (string, error) {
	var buf bytes.Buffer
	if err := converter.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return fmt.Sprintf(pageTemplate, stdhtml.EscapeString(title), buf.String()), nil
}

// PageBreaks counts the thematic breaks at the top level of md
func PageBreaks(md string) int {
	src := []byte(md)
	doc := converter.Parser().Parse(text.NewReader(src))

	n := 0
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		if child.Kind() == ast.KindThematicBreak {
			n++
		}
	}
	return n
}
