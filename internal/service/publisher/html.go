package publisher

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	brTagRe      = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRe = regexp.MustCompile(`(?i)</p>|</div>`)
	listItemRe   = regexp.MustCompile(`(?i)<li>`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	blankLineRe  = regexp.MustCompile(`\n\s*\n+`)
)

// StripHTML flattens a markup fragment to plain text, keeping paragraph
// breaks: <br> and closed blocks become newlines, list items become dashes,
// remaining tags and entities are resolved through an HTML parse.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}

	s = brTagRe.ReplaceAllString(s, "\n")
	s = blockCloseRe.ReplaceAllString(s, "\n")
	s = listItemRe.ReplaceAllString(s, "\n- ")

	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}

	s = spaceRunRe.ReplaceAllString(s, " ")
	s = blankLineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Clip hard-caps a string at n runes, for provider fields with strict limits.
func Clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Ellipsize trims to at most n runes, ending with "..." when cut.
func Ellipsize(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimRight(string(runes[:n-3]), " \t\n") + "..."
}
