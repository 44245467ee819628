package rag

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// flattener renders markdown message bodies down to plain text for excerpts,
// so context blocks carry prose instead of raw markup.
type flattener struct {
	parser goldmark.Markdown
}

func newFlattener() *flattener {
	return &flattener{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Flatten strips markdown structure from content, keeping text, code and
// table cells separated by newlines. Input that fails to parse comes back
// unchanged.
func (f *flattener) Flatten(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	source := []byte(content)
	doc := f.parser.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(source))
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock:
			writeLines(&b, node.Lines(), source)
		case *ast.FencedCodeBlock:
			writeLines(&b, node.Lines(), source)
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		default:
			// Table cells become space-separated words on the row's line.
			if strings.Contains(n.Kind().String(), "TableCell") {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") && !strings.HasSuffix(b.String(), " ") {
					b.WriteString(" ")
				}
			}
			if strings.Contains(n.Kind().String(), "TableRow") {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString("\n")
				}
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

func writeLines(b *strings.Builder, lines *text.Segments, source []byte) {
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(source))
	}
}
