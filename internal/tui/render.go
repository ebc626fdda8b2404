package tui

import (
	"html"
	"regexp"
	"strings"
)

// the only tags the formatter emits; everything else arrives escaped
var tagPattern = regexp.MustCompile(`</?(?:strong|em)>|<br>`)

// Render turns formatter markup into styled terminal text.
func Render(markup string, st Styles) string {
	var b strings.Builder
	var bold, italic bool

	write := func(s string) {
		if s == "" {
			return
		}
		s = html.UnescapeString(s)
		switch {
		case bold && italic:
			b.WriteString(st.Bold.Inherit(st.Italic).Render(s))
		case bold:
			b.WriteString(st.Bold.Render(s))
		case italic:
			b.WriteString(st.Italic.Render(s))
		default:
			b.WriteString(s)
		}
	}

	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(markup, -1) {
		write(markup[last:loc[0]])
		switch markup[loc[0]:loc[1]] {
		case "<strong>":
			bold = true
		case "</strong>":
			bold = false
		case "<em>":
			italic = true
		case "</em>":
			italic = false
		case "<br>":
			b.WriteByte('\n')
		}
		last = loc[1]
	}
	write(markup[last:])
	return b.String()
}
