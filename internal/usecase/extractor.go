package usecase

import (
	"github.com/user/booksource-service/internal/repository"
	"github.com/user/booksource-service/pkg/metrics"
	"github.com/user/booksource-service/pkg/utils"
	"go.uber.org/zap"
)

// linkAttr says where a URL field reads its value from: the first present
// attribute in names, or the same attributes on the first nested match.
type linkAttr struct {
	names  []string
	nested string
}

var (
	attrHref = linkAttr{names: []string{"href"}, nested: "a[href]"}
	attrSrc  = linkAttr{names: []string{"src", "data-src", "data-original"}, nested: "img"}
)

// extractor applies field selectors to one fetched page.
type extractor struct {
	op      string
	source  string
	base    string
	metrics *metrics.Metrics
	logger  *zap.Logger
	warned  map[string]struct{}
}

func (e *extractor) list(scope repository.Node, field, selector string) []repository.Node {
	if selector == "" {
		return nil
	}
	nodes, err := scope.Find(selector)
	if err != nil {
		e.invalid(field, selector, err)
		return nil
	}
	if len(nodes) == 0 {
		e.metrics.IncExtractionMiss(field)
	}
	return nodes
}

func (e *extractor) first(scope repository.Node, field, selector string) (repository.Node, bool) {
	if selector == "" {
		return nil, false
	}
	n, ok, err := scope.First(selector)
	if err != nil {
		e.invalid(field, selector, err)
		return nil, false
	}
	if !ok {
		e.metrics.IncExtractionMiss(field)
	}
	return n, ok
}

func (e *extractor) text(scope repository.Node, field, selector string) string {
	n, ok := e.first(scope, field, selector)
	if !ok {
		return ""
	}
	return n.Text()
}

func (e *extractor) blockText(scope repository.Node, field, selector string) string {
	n, ok := e.first(scope, field, selector)
	if !ok {
		return ""
	}
	return n.BlockText()
}

func (e *extractor) url(scope repository.Node, field, selector string, attr linkAttr) string {
	n, ok := e.first(scope, field, selector)
	if !ok {
		return ""
	}
	return e.ownURL(n, attr)
}

// ownURL reads attr from n itself, falling back to its first nested link or
// image, and resolves the result against the page URL.
func (e *extractor) ownURL(n repository.Node, attr linkAttr) string {
	if v := attrValue(n, attr.names); v != "" {
		return utils.ResolveURL(e.base, v)
	}
	if inner, ok, err := n.First(attr.nested); err == nil && ok {
		if v := attrValue(inner, attr.names); v != "" {
			return utils.ResolveURL(e.base, v)
		}
	}
	return ""
}

func (e *extractor) exists(scope repository.Node, selector string) bool {
	if selector == "" {
		return false
	}
	_, ok, err := scope.First(selector)
	if err != nil {
		e.invalid("isVip", selector, err)
		return false
	}
	return ok
}

// nextURL returns the absolute next-page link, or "" when there is none.
func (e *extractor) nextURL(doc repository.Node, selector string) string {
	n, ok, err := doc.First(selector)
	if err != nil {
		e.invalid("next", selector, err)
		return ""
	}
	if !ok {
		return ""
	}
	return e.ownURL(n, attrHref)
}

func (e *extractor) invalid(field, selector string, err error) {
	if _, seen := e.warned[selector]; seen {
		return
	}
	e.warned[selector] = struct{}{}
	e.logger.Warn("invalid selector",
		zap.String("op", e.op),
		zap.String("source", e.source),
		zap.String("field", field),
		zap.String("selector", selector),
		zap.Error(err),
	)
	e.metrics.IncExtractionMiss(field)
}

func attrValue(n repository.Node, names []string) string {
	for _, name := range names {
		if v, ok := n.Attr(name); ok && v != "" {
			return v
		}
	}
	return ""
}
