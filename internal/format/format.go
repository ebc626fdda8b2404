// Package format turns the markdown-flavoured subset used in chat bodies into
// display markup.
//
// Format must run exactly once over raw text. Its output is not a valid input:
// running it again over markup is not guaranteed to be stable.
package format

import (
	"html"
	"regexp"
	"strings"
)

// Pass is a single rewrite step of the pipeline.
type Pass struct {
	Name    string
	Rewrite func(string) string
}

var (
	boldRe     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe   = regexp.MustCompile(`\*(.*?)\*`)
	listItemRe = regexp.MustCompile(`^\d+\.\s`)
)

// Pipeline is the ordered list of passes applied by Format. List detection
// depends on line boundaries and therefore runs before newlines are replaced.
var Pipeline = []Pass{
	{Name: "escape", Rewrite: escape},
	{Name: "bold", Rewrite: bold},
	{Name: "italic", Rewrite: italic},
	{Name: "list", Rewrite: numberedList},
	{Name: "newline", Rewrite: newlines},
}

// Format renders raw chat text as markup.
func Format(text string) string {
	out := text
	for _, p := range Pipeline {
		out = p.Rewrite(out)
	}
	return out
}

func escape(s string) string {
	return html.EscapeString(s)
}

func bold(s string) string {
	return boldRe.ReplaceAllString(s, "<strong>${1}</strong>")
}

func italic(s string) string {
	return italicRe.ReplaceAllString(s, "<em>${1}</em>")
}

// numberedList prefixes every "N. text" line with a line break. The prefix
// takes the place of the newline that ended the previous line, and an item on
// the very first line gets none. Item text is kept as written.
func numberedList(s string) string {
	lines := strings.Split(s, "\n")
	var b strings.Builder
	b.Grow(len(s) + 4*len(lines))
	for i, line := range lines {
		if i > 0 {
			if listItemRe.MatchString(line) {
				b.WriteString("<br>")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
	}
	return b.String()
}

func newlines(s string) string {
	return strings.ReplaceAll(s, "\n", "<br>")
}
