package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalise(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trailing whitespace", in: "a  \nb\t", want: "a\nb"},
		{name: "blank runs collapse", in: "a\n\n\n\nb", want: "a\n\nb"},
		{name: "whitespace only lines count as blank", in: "a\n  \n\t\nb", want: "a\n\nb"},
		{name: "leading and trailing blanks", in: "\n\na\n\n", want: "a"},
		{name: "no reflow", in: "one\ntwo\nthree", want: "one\ntwo\nthree"},
		{name: "crlf", in: "a\r\nb\r\n", want: "a\nb"},
		{name: "leading indentation kept", in: "  indented", want: "  indented"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalise(tt.in))
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "duplicate comma", in: "你好，，世界", want: "你好，世界"},
		{name: "duplicate with spaces", in: "结束。 。 。", want: "结束。"},
		{name: "space before punctuation", in: "真的 ！", want: "真的！"},
		{name: "space between punctuation", in: "好， 。", want: "好，。"},
		{name: "mixed marks untouched", in: "什么？！", want: "什么？！"},
		{name: "ascii untouched", in: "a , b", want: "a , b"},
		{name: "lines kept", in: "一，，\n二。。", want: "一，\n二。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}
