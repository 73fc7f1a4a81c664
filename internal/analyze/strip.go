package analyze

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// StripNoise removes markup the model cannot learn from (scripts, styles,
// inline SVG) before the page goes into a prompt. The input is returned
// unchanged when it does not parse as HTML.
func StripNoise(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, svg, noscript, iframe, link, meta").Remove()

	out, err := doc.Html()
	if err != nil {
		return html
	}
	return blankRuns.ReplaceAllString(out, "\n\n")
}
