package cli

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// table renders rows as left-aligned columns separated by two spaces.
// Widths are measured in runes after NFC normalization so labels with
// combining marks line up.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) String() string {
	widths := make([]int, len(t.header))
	measure := func(cells []string) {
		for i, c := range cells {
			if n := utf8.RuneCountInString(norm.NFC.String(c)); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.header)
	for _, r := range t.rows {
		measure(r)
	}

	var b strings.Builder
	write := func(cells []string) {
		var line strings.Builder
		for i, c := range cells {
			c = norm.NFC.String(c)
			line.WriteString(c)
			if i < len(cells)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c)+2))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteByte('\n')
	}
	write(t.header)
	for _, r := range t.rows {
		write(r)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// labelCollator orders labels the way a user expects: case and accents
// are secondary to the base letters.
func labelCollator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics)
}

// normalizeLabel trims and NFC-normalizes user-entered labels so equal
// labels compare equal regardless of how they were typed.
func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
