package notify

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rivo/uniseg"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "…"

// Truncate shortens s to at most n user-perceived characters (grapheme
// clusters), replacing the tail with an ellipsis. It never splits a cluster.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= n {
		return s
	}

	var b strings.Builder
	rest, state := s, -1
	for i := 0; i < n-1 && rest != ""; i++ {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		b.WriteString(cluster)
	}
	return strings.TrimRight(b.String(), " \t\n") + Ellipsis
}

var (
	lineBreak = regexp.MustCompile(`(?i)<br\s*/?>`)
	bodyTags  = regexp.MustCompile(`<[^>]*>`)
)

var bodyPolicy = newBodyPolicy()

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "u")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	return p
}

// SanitizeBody reduces notification body markup to the subset the panel
// renders: bold, italic, underline and links. Everything else is dropped and
// stray text is escaped.
func SanitizeBody(body string) string {
	body = lineBreak.ReplaceAllString(body, " ")
	return bodyPolicy.Sanitize(body)
}

// PlainText strips all markup from a sanitized body and decodes its
// character references.
func PlainText(body string) string {
	return html.UnescapeString(bodyTags.ReplaceAllString(body, ""))
}

// Preview returns the single-line plain text preview of a body.
func Preview(body string, n int) string {
	return Truncate(strings.Join(strings.Fields(PlainText(body)), " "), n)
}
