// Package rule holds the small text grammars embedded in a book source:
// group tags, explore templates, content replace rules and URL templates.
// Every parser skips malformed entries instead of failing the whole input.
package rule

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/user/booksource-service/internal/entity"
)

const (
	// KeyPlaceholder is replaced by the percent-encoded search keyword.
	KeyPlaceholder = "{{key}}"
	// PagePlaceholder is replaced by the result page number.
	PagePlaceholder = "{{page}}"
)

// ParseGroupTags splits a comma separated group string. Both ASCII and
// full-width commas separate tags; blanks and duplicates are dropped.
func ParseGroupTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' })
	tags := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tag := strings.TrimSpace(f)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// HasGroupTag reports whether group contains tag as a whole tag.
func HasGroupTag(group, tag string) bool {
	for _, t := range ParseGroupTags(group) {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseExploreTemplate parses a source's exploreUrl.
//
// Two encodings are accepted:
//
//	[{"title":"玄幻","url":"/cat/1"}, ...]      JSON array
//	玄幻::/cat/1&&都市::/cat/2                    entries split on newline or "&&"
//
// In the text form an entry is `name::url`, or `name:url` split at the first
// colon. Entries without both a name and a url are skipped.
func ParseExploreTemplate(s string) []entity.ExploreEntry {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		if entries, ok := parseExploreJSON(trimmed); ok {
			return entries
		}
	}

	var entries []entity.ExploreEntry
	for _, line := range strings.Split(trimmed, "\n") {
		for _, raw := range strings.Split(line, "&&") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			name, link, ok := strings.Cut(raw, "::")
			if !ok {
				name, link, ok = strings.Cut(raw, ":")
				// A bare absolute URL splits at its scheme.
				if strings.HasPrefix(link, "//") {
					continue
				}
			}
			name, link = strings.TrimSpace(name), strings.TrimSpace(link)
			if !ok || name == "" || link == "" {
				continue
			}
			entries = append(entries, entity.ExploreEntry{Title: name, URL: link})
		}
	}
	return entries
}

func parseExploreJSON(s string) ([]entity.ExploreEntry, bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}
	entries := make([]entity.ExploreEntry, 0, len(raw))
	for _, item := range raw {
		var e entity.ExploreEntry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		e.Title, e.URL = strings.TrimSpace(e.Title), strings.TrimSpace(e.URL)
		if e.Title == "" || e.URL == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, true
}

// Replacement is one compiled `pattern::replacement` content rule.
type Replacement struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// ParseReplaceRules compiles newline separated `pattern::replacement` pairs.
// Lines without "::" and lines whose pattern does not compile are skipped;
// the second return value lists them for logging.
func ParseReplaceRules(s string) ([]Replacement, []string) {
	var rules []Replacement
	var skipped []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		pattern, replacement, ok := strings.Cut(line, "::")
		if !ok || pattern == "" {
			skipped = append(skipped, line)
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			skipped = append(skipped, line)
			continue
		}
		rules = append(rules, Replacement{Pattern: re, Replacement: replacement})
	}
	return rules, skipped
}

// ApplyReplaceRules runs every rule globally over text, in order.
func ApplyReplaceRules(text string, rules []Replacement) string {
	for _, r := range rules {
		text = r.Pattern.ReplaceAllString(text, r.Replacement)
	}
	return text
}

// BuildSearchURL substitutes the percent-encoded keyword and the first page
// into a search URL template.
func BuildSearchURL(template, keyword string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(keyword), "+", "%20")
	out := strings.ReplaceAll(template, KeyPlaceholder, escaped)
	return strings.ReplaceAll(out, PagePlaceholder, "1")
}
