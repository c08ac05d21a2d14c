package index

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
)

// Document is the stored form of a committed snippet. It is immutable once
// committed; deletion is tracked by segment tombstones, not on the document.
type Document struct {
	DocID  uint64 `json:"doc_id"`
	Length int    `json:"length"`
	snippet.Record
}

// Summary returns the first non-blank line of the text, cut to max bytes on
// a rune boundary.
func (d *Document) Summary(max int) string {
	var line string
	for _, l := range strings.Split(d.Text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if max <= 0 || len(line) <= max {
		return line
	}
	cut := max
	for cut > 0 && line[cut]&0xC0 == 0x80 {
		cut--
	}
	return line[:cut] + "..."
}
