// Package goquery_dom implements repository.DocumentParser on goquery.
// Selectors are compiled with cascadia first so a malformed rule is
// reported instead of silently matching nothing.
package goquery_dom

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/user/booksource-service/internal/repository"
	"golang.org/x/net/html"
)

// Parser parses HTML bodies and caches compiled selectors across documents.
type Parser struct {
	selectors sync.Map // string -> cascadia.Selector
}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse builds a document from body. The HTML parser recovers from
// malformed markup, so errors are rare and only come from the reader.
func (p *Parser) Parse(body []byte, pageURL string) (repository.Node, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}
	return &node{sel: doc.Selection, parser: p}, nil
}

func (p *Parser) compile(selector string) (goquery.Matcher, error) {
	if m, ok := p.selectors.Load(selector); ok {
		return m.(cascadia.Selector), nil
	}
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	p.selectors.Store(selector, compiled)
	return compiled, nil
}

type node struct {
	sel    *goquery.Selection
	parser *Parser
}

func (n *node) Find(selector string) ([]repository.Node, error) {
	m, err := n.parser.compile(selector)
	if err != nil {
		return nil, err
	}
	found := n.sel.FindMatcher(m)
	nodes := make([]repository.Node, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &node{sel: s, parser: n.parser})
	})
	return nodes, nil
}

func (n *node) First(selector string) (repository.Node, bool, error) {
	m, err := n.parser.compile(selector)
	if err != nil {
		return nil, false, err
	}
	found := n.sel.FindMatcher(m).First()
	if found.Length() == 0 {
		return nil, false, nil
	}
	return &node{sel: found, parser: n.parser}, true, nil
}

func (n *node) Text() string {
	return strings.TrimSpace(n.sel.Text())
}

func (n *node) Attr(name string) (string, bool) {
	v, ok := n.sel.Attr(name)
	return strings.TrimSpace(v), ok
}

func (n *node) BlockText() string {
	var b strings.Builder
	for _, root := range n.sel.Nodes {
		writeBlockText(&b, root)
	}
	return cleanLines(b.String())
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "dd": true,
	"div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true, "tr": true,
	"ul": true,
}

func writeBlockText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeBlockText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

// cleanLines trims each line, including full-width and no-break spaces used
// for paragraph indents, and drops blank lines.
func cleanLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\r' || r == '\u00a0' || r == '\u3000'
		})
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var _ repository.DocumentParser = (*Parser)(nil)
