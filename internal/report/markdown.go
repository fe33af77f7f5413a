package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders doc as GitHub-style Markdown.
func Markdown(doc *Document) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n", doc.Title)
	for _, s := range doc.Sections {
		fmt.Fprintf(&b, "\n## %s\n", s.Heading)
		for _, p := range s.Paragraphs {
			fmt.Fprintf(&b, "\n%s\n", p)
		}
		for _, t := range s.Tables {
			writeTable(&b, t)
		}
	}
	return b.Bytes()
}

func writeTable(b *bytes.Buffer, t Table) {
	fmt.Fprintf(b, "\n### %s\n\n", t.Title)
	writeRow(b, t.Headers)
	sep := make([]string, len(t.Headers))
	for i := range sep {
		sep[i] = "---"
		if i > 0 {
			sep[i] = "---:"
		}
	}
	writeRow(b, sep)
	for _, r := range t.Rows {
		writeRow(b, r)
	}
}

func writeRow(b *bytes.Buffer, cells []string) {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	fmt.Fprintf(b, "| %s |\n", strings.Join(escaped, " | "))
}

// HTML renders doc as a standalone HTML page.
func HTML(doc *Document) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Title: doc.Title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML(Markdown(doc), p, r)
}
