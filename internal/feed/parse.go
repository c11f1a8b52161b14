package feed

import (
	"errors"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Entry is one feed item reduced to what a livemark child needs.
type Entry struct {
	Link  string
	Title string
}

// Document is a successfully parsed feed.
type Document struct {
	Title    string
	SiteLink string
	Entries  []Entry
}

// Result is the outcome of parsing a stream. Document is nil whenever parsing
// failed. Callers that track the stream can tell a read failure apart from a
// malformed document; the parser cannot.
type Result struct {
	Document  *Document
	Err       error
	Malformed bool
}

// GofeedParser parses RSS, Atom, and JSON feeds.
type GofeedParser struct {
	parser *gofeed.Parser
}

// NewParser returns a parser backed by gofeed.
func NewParser() *GofeedParser {
	return &GofeedParser{parser: gofeed.NewParser()}
}

// Parse consumes r until EOF or error.
func (p *GofeedParser) Parse(r io.Reader) Result {
	parsed, err := p.parser.Parse(r)
	if err != nil {
		return Result{Err: err, Malformed: true}
	}

	if parsed == nil {
		return Result{Err: errors.New("feed returned no content"), Malformed: true}
	}

	doc := &Document{
		Title:    PlainText(parsed.Title),
		SiteLink: strings.TrimSpace(parsed.Link),
		Entries:  make([]Entry, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		doc.Entries = append(doc.Entries, Entry{
			Link:  itemLink(item),
			Title: PlainText(item.Title),
		})
	}

	return Result{Document: doc}
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}

	for _, link := range item.Links {
		if trimmed := strings.TrimSpace(link); trimmed != "" {
			return trimmed
		}
	}

	return ""
}

// PlainText strips markup from a feed title and collapses whitespace.
func PlainText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !strings.ContainsAny(trimmed, "<&") {
		return strings.Join(strings.Fields(trimmed), " ")
	}

	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(trimmed), root)
	if err != nil {
		return strings.Join(strings.Fields(trimmed), " ")
	}

	var b strings.Builder
	for _, node := range nodes {
		collectText(node, &b)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(node *html.Node, b *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		b.WriteString(node.Data)
		return
	case html.ElementNode:
		b.WriteByte(' ')
		if node.DataAtom == atom.Script || node.DataAtom == atom.Style {
			return
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}
