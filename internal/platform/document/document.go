// Package document renders user-written message text into the HTML body
// and PDF attachment of outgoing direct messages.
package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/russross/blackfriday/v2"
	"golang.org/x/net/html"
)

// Markdown renders markdown text as an HTML fragment.
func Markdown(text string) string {
	return string(blackfriday.Run([]byte(text)))
}

// fpdf's basic HTML writer understands b, i, u, a and br. Everything else
// is flattened onto those.
var (
	inlineTags = map[string]string{
		"b": "b", "strong": "b",
		"i": "i", "em": "i",
		"u": "u",
	}
	blockEnds = map[string]bool{
		"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"li": true, "pre": true, "blockquote": true,
	}
	breakAfter = map[string]bool{"p": true, "h1": true, "h2": true, "h3": true, "pre": true}
)

// textLT marks a literal '<' from a text run until the whole fragment is
// known.
const textLT = '\x00'

// PDF renders an HTML fragment onto A4 pages using the core Helvetica font.
func PDF(htmlText string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 11)
	_, lineHt := pdf.GetFontSize()
	lineHt *= 1.5

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	writer := pdf.HTMLBasicNew()
	writer.Write(lineHt, tr(simplifyHTML(htmlText)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// simplifyHTML maps block markup onto line breaks and decodes entities in
// text runs, leaving only tags the basic writer knows.
func simplifyHTML(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	inLink := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return guardBrackets(strings.TrimSpace(b.String()))
		case html.TextToken:
			text := strings.ReplaceAll(string(z.Text()), "\x00", "")
			text = strings.NewReplacer("\r", "", "\n", " ", "<", string(textLT)).Replace(text)
			b.WriteString(text)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch {
			case inlineTags[tag] != "":
				b.WriteString("<" + inlineTags[tag] + ">")
			case tag == "br" || tag == "hr":
				b.WriteString("<br>")
			case tag == "li":
				b.WriteString("- ")
			case tag == "a":
				var href string
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					if string(k) == "href" {
						href = string(v)
					}
				}
				// The writer splits tags on spaces and stops values at quotes.
				if href != "" && !strings.ContainsAny(href, " \t\"'<>") {
					b.WriteString(`<a href="` + href + `">`)
					inLink = true
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case inlineTags[tag] != "":
				b.WriteString("</" + inlineTags[tag] + ">")
			case tag == "a" && inLink:
				b.WriteString("</a>")
				inLink = false
			case blockEnds[tag]:
				b.WriteString("<br>")
				if breakAfter[tag] {
					b.WriteString("<br>")
				}
			}
		}
	}
}

// guardBrackets restores literal '<' characters. The writer reads any '<'
// followed by a later '>' as a tag, so those become a lookalike single
// angle quote, which cp1252 can encode.
func guardBrackets(s string) string {
	lastGT := strings.LastIndexByte(s, '>')
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] != textLT:
			b.WriteByte(s[i])
		case i < lastGT:
			b.WriteString("\u2039")
		default:
			b.WriteByte('<')
		}
	}
	return b.String()
}
