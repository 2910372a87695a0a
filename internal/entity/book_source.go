package entity

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// BookSource mirrors the `book_sources` table schema. Rule groups are kept as
// typed structs here and serialized to JSON text only at the storage boundary.
type BookSource struct {
	ID              string  `json:"id,omitempty"`
	BookSourceURL   string  `json:"bookSourceUrl"`
	BookSourceName  string  `json:"bookSourceName"`
	BookSourceGroup string  `json:"bookSourceGroup"`
	BookSourceType  int     `json:"bookSourceType"`
	LoginURL        string  `json:"loginUrl,omitempty"`
	Header          Headers `json:"header,omitempty"`
	Enabled         bool    `json:"enabled"`
	EnabledExplore  bool    `json:"enabledExplore"`
	CustomOrder     int     `json:"customOrder"`
	Weight          int     `json:"weight"`
	LastUpdateTime  int64   `json:"lastUpdateTime"` // epoch millis

	SearchURL  string `json:"searchUrl"`
	ExploreURL string `json:"exploreUrl,omitempty"`

	RuleSearch   SearchRule   `json:"ruleSearch"`
	RuleExplore  *SearchRule  `json:"ruleExplore,omitempty"`
	RuleBookInfo BookInfoRule `json:"ruleBookInfo"`
	RuleToc      TocRule      `json:"ruleToc"`
	RuleContent  ContentRule  `json:"ruleContent"`
}

// UnmarshalJSON applies the defaults of a freshly created source before
// decoding, so absent flags come out enabled.
func (s *BookSource) UnmarshalJSON(data []byte) error {
	type plain BookSource
	p := plain{Enabled: true, EnabledExplore: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = BookSource(p)
	return nil
}

// MissingFields lists the required fields that are empty.
func (s *BookSource) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(s.BookSourceURL) == "" {
		missing = append(missing, "bookSourceUrl")
	}
	if strings.TrimSpace(s.BookSourceName) == "" {
		missing = append(missing, "bookSourceName")
	}
	return missing
}

// ExploreRule returns the rule used for explore pages. Sources without a
// dedicated explore rule reuse their search rule.
func (s *BookSource) ExploreRule() SearchRule {
	if s.RuleExplore != nil {
		return *s.RuleExplore
	}
	return s.RuleSearch
}

// Clone returns a deep copy safe to hand out of a shared cache.
func (s BookSource) Clone() BookSource {
	out := s
	if s.Header != nil {
		out.Header = maps.Clone(s.Header)
	}
	if s.RuleExplore != nil {
		r := *s.RuleExplore
		out.RuleExplore = &r
	}
	return out
}

// Headers holds custom HTTP headers for a source. Exports from other readers
// store the object as a JSON string, so both encodings are accepted.
type Headers map[string]string

func (h *Headers) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		*h = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		data = []byte(inner)
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	*h = m
	return nil
}

// SearchRule extracts book summaries from search and explore result pages.
type SearchRule struct {
	BookList    string `json:"bookList,omitempty"`
	Name        string `json:"name,omitempty"`
	Author      string `json:"author,omitempty"`
	Kind        string `json:"kind,omitempty"`
	LastChapter string `json:"lastChapter,omitempty"`
	Intro       string `json:"intro,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
	BookURL     string `json:"bookUrl,omitempty"`
}

func (r *SearchRule) UnmarshalJSON(data []byte) error {
	type plain SearchRule
	aux := struct {
		plain
		Introduce string `json:"introduce"`
		NoteURL   string `json:"noteUrl"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = SearchRule(aux.plain)
	if r.Intro == "" {
		r.Intro = aux.Introduce
	}
	if r.BookURL == "" {
		r.BookURL = aux.NoteURL
	}
	return nil
}

// IsZero reports whether no selector is set.
func (r SearchRule) IsZero() bool { return r == SearchRule{} }

// BookInfoRule extracts a book detail record from a book page.
type BookInfoRule struct {
	Name        string `json:"name,omitempty"`
	Author      string `json:"author,omitempty"`
	Kind        string `json:"kind,omitempty"`
	LastChapter string `json:"lastChapter,omitempty"`
	Intro       string `json:"intro,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
	TocURL      string `json:"tocUrl,omitempty"`
}

func (r *BookInfoRule) UnmarshalJSON(data []byte) error {
	type plain BookInfoRule
	aux := struct {
		plain
		Introduce string `json:"introduce"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = BookInfoRule(aux.plain)
	if r.Intro == "" {
		r.Intro = aux.Introduce
	}
	return nil
}

// TocRule extracts the chapter list from a table-of-contents page.
type TocRule struct {
	ChapterList string `json:"chapterList,omitempty"`
	ChapterName string `json:"chapterName,omitempty"`
	ChapterURL  string `json:"chapterUrl,omitempty"`
	NextTocURL  string `json:"nextTocUrl,omitempty"`
	IsVip       string `json:"isVip,omitempty"`
}

func (r *TocRule) UnmarshalJSON(data []byte) error {
	type plain TocRule
	aux := struct {
		plain
		ContentURL string `json:"contentUrl"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = TocRule(aux.plain)
	if r.NextTocURL == "" {
		r.NextTocURL = aux.ContentURL
	}
	return nil
}

// ContentRule extracts chapter text. ReplaceRegex holds newline separated
// `pattern::replacement` pairs applied after extraction.
type ContentRule struct {
	Content        string `json:"content,omitempty"`
	NextContentURL string `json:"nextContentUrl,omitempty"`
	ReplaceRegex   string `json:"replaceRegex,omitempty"`
}
