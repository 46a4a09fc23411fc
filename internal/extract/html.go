package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// lineBreaking elements end a visual line when rendered
var lineBreaking = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Tr: true, atom.Li: true,
	atom.Table: true, atom.Tbody: true, atom.Thead: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Footer: true, atom.Section: true, atom.Article: true,
	atom.Dt: true, atom.Dd: true,
}

// FlattenHTML renders markup as plain text, one visual line per output line.
// Text without markup passes through unchanged apart from entity decoding.
func FlattenHTML(document string) string {
	z := html.NewTokenizer(strings.NewReader(document))

	var b strings.Builder
	skipping := atom.Atom(0)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skipping == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if tag == atom.Script || tag == atom.Style {
				skipping = tag
				continue
			}
			writeSeparator(&b, tag)
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if tag == skipping {
				skipping = 0
				continue
			}
			writeSeparator(&b, tag)
		}
	}
}

func writeSeparator(b *strings.Builder, tag atom.Atom) {
	switch {
	case lineBreaking[tag]:
		b.WriteByte('\n')
	case tag == atom.Td || tag == atom.Th || tag == atom.Span:
		b.WriteByte(' ')
	}
}
