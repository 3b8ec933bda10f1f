package markdown

import (
	"regexp"
	"strings"
)

const fullWidthPunct = "，。！？；："

var (
	// Runs of one repeated full-width mark, e.g. "。。" or "， ，"
	duplicatePunct = func() []*regexp.Regexp {
		res := make([]*regexp.Regexp, 0, len(fullWidthPunct))
		for _, r := range fullWidthPunct {
			q := regexp.QuoteMeta(string(r))
			res = append(res, regexp.MustCompile(q+`(?:[ \t\x{3000}]*`+q+`)+`))
		}
		return res
	}()

	spaceBeforePunct = regexp.MustCompile(`[ \t\x{3000}]+([` + fullWidthPunct + `])`)
)

// CleanText removes common OCR punctuation artefacts line by line. It never
// joins or splits lines.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = spaceBeforePunct.ReplaceAllString(line, "$1")
		for j, re := range duplicatePunct {
			line = re.ReplaceAllLiteralString(line, string([]rune(fullWidthPunct)[j]))
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// Normalise trims trailing whitespace on every line, collapses runs of blank
// lines to one and strips leading and trailing blank lines. Paragraph breaks
// are kept and text is never re-flowed.
func Normalise(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t　")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
