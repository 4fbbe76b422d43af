// Package htmlutil flattens markup found in text from external sources.
package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text, decoding entities and stripping tags.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// Label converts s to plain text on a single line, collapsing whitespace.
func Label(s string) string {
	return strings.Join(strings.Fields(ToText(s)), " ")
}
