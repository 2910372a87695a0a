package repository

// Node is a queryable element of a parsed HTML document. The root node
// returned by DocumentParser represents the whole document.
//
// Selector errors are reported so the caller can log them; a selector that
// matches nothing is not an error.
type Node interface {
	// Find returns every descendant matching selector, in document order.
	Find(selector string) ([]Node, error)
	// First returns the first descendant matching selector.
	First(selector string) (Node, bool, error)
	// Text returns the trimmed text content.
	Text() string
	// BlockText returns the text content with line breaks at <br> and block
	// element boundaries. Lines are trimmed and blank lines dropped.
	BlockText() string
	// Attr returns the named attribute.
	Attr(name string) (string, bool)
}

// DocumentParser turns a response body into a queryable document.
type DocumentParser interface {
	Parse(body []byte, pageURL string) (Node, error)
}
