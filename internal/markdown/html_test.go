package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	md := Assemble(Document{Title: "trip <1>", Pages: pages("Day one\n第一天", "Day two")}, DefaultOptions())

	out, err := RenderHTML("trip <1>", md)
	require.NoError(t, err)

	assert.Contains(t, out, "<title>trip &lt;1&gt;</title>")
	assert.Contains(t, out, "<h1>trip &lt;1&gt;</h1>")
	assert.Contains(t, out, "Day one<br>\n第一天")
	assert.Contains(t, out, "<hr>")
}

func TestPageBreaks(t *testing.T) {
	assert.Equal(t, 0, PageBreaks("# t\n\ntext\n"))
	assert.Equal(t, 2, PageBreaks("a\n\n---\n\nb\n\n***\n\nc\n"))
	// Setext underline is a heading, not a break
	assert.Equal(t, 0, PageBreaks("a\n---\n"))
}
