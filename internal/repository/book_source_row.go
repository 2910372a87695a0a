package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/user/booksource-service/internal/entity"
)

// Columns lists the book_sources columns in the order used by Row.Dest and Row.Args.
var Columns = []string{
	"id", "bookSourceUrl", "bookSourceName", "bookSourceGroup", "bookSourceType",
	"loginUrl", "header", "enabled", "enabledExplore", "customOrder", "weight",
	"lastUpdateTime", "searchUrl", "exploreUrl", "ruleSearch", "ruleExplore",
	"ruleBookInfo", "ruleToc", "ruleContent",
}

type columnKind int

const (
	kindString columnKind = iota
	kindRequiredString
	kindInt
	kindBool
	kindHeader
	kindRule
	kindNullableRule
)

// writable maps every column a caller may pass to Update. id and
// lastUpdateTime are managed by the store.
var writable = map[string]columnKind{
	"bookSourceUrl":   kindRequiredString,
	"bookSourceName":  kindRequiredString,
	"bookSourceGroup": kindString,
	"bookSourceType":  kindInt,
	"loginUrl":        kindString,
	"header":          kindHeader,
	"enabled":         kindBool,
	"enabledExplore":  kindBool,
	"customOrder":     kindInt,
	"weight":          kindInt,
	"searchUrl":       kindString,
	"exploreUrl":      kindString,
	"ruleSearch":      kindRule,
	"ruleExplore":     kindNullableRule,
	"ruleBookInfo":    kindRule,
	"ruleToc":         kindRule,
	"ruleContent":     kindRule,
}

// Row is the storage shape of a BookSource: rule groups and header are JSON text.
type Row struct {
	ID              string
	BookSourceURL   string
	BookSourceName  string
	BookSourceGroup string
	BookSourceType  int
	LoginURL        string
	Header          sql.NullString
	Enabled         bool
	EnabledExplore  bool
	CustomOrder     int
	Weight          int
	LastUpdateTime  int64
	SearchURL       string
	ExploreURL      string
	RuleSearch      string
	RuleExplore     sql.NullString
	RuleBookInfo    string
	RuleToc         string
	RuleContent     string
}

// Dest returns scan destinations in Columns order.
func (r *Row) Dest() []any {
	return []any{
		&r.ID, &r.BookSourceURL, &r.BookSourceName, &r.BookSourceGroup, &r.BookSourceType,
		&r.LoginURL, &r.Header, &r.Enabled, &r.EnabledExplore, &r.CustomOrder, &r.Weight,
		&r.LastUpdateTime, &r.SearchURL, &r.ExploreURL, &r.RuleSearch, &r.RuleExplore,
		&r.RuleBookInfo, &r.RuleToc, &r.RuleContent,
	}
}

// Args returns query arguments in Columns order.
func (r *Row) Args() []any {
	return []any{
		r.ID, r.BookSourceURL, r.BookSourceName, r.BookSourceGroup, r.BookSourceType,
		r.LoginURL, r.Header, r.Enabled, r.EnabledExplore, r.CustomOrder, r.Weight,
		r.LastUpdateTime, r.SearchURL, r.ExploreURL, r.RuleSearch, r.RuleExplore,
		r.RuleBookInfo, r.RuleToc, r.RuleContent,
	}
}

// NewRow encodes a BookSource for storage. It rejects records without a url or name.
func NewRow(s *entity.BookSource) (Row, error) {
	if missing := s.MissingFields(); len(missing) > 0 {
		return Row{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	r := Row{
		ID:              s.ID,
		BookSourceURL:   s.BookSourceURL,
		BookSourceName:  s.BookSourceName,
		BookSourceGroup: s.BookSourceGroup,
		BookSourceType:  s.BookSourceType,
		LoginURL:        s.LoginURL,
		Enabled:         s.Enabled,
		EnabledExplore:  s.EnabledExplore,
		CustomOrder:     s.CustomOrder,
		Weight:          s.Weight,
		LastUpdateTime:  s.LastUpdateTime,
		SearchURL:       s.SearchURL,
		ExploreURL:      s.ExploreURL,
	}
	var err error
	if r.Header, err = encodeHeader(s.Header); err != nil {
		return Row{}, err
	}
	if r.RuleSearch, err = encodeJSON(s.RuleSearch); err != nil {
		return Row{}, err
	}
	if s.RuleExplore != nil {
		text, err := encodeJSON(s.RuleExplore)
		if err != nil {
			return Row{}, err
		}
		r.RuleExplore = sql.NullString{String: text, Valid: true}
	}
	if r.RuleBookInfo, err = encodeJSON(s.RuleBookInfo); err != nil {
		return Row{}, err
	}
	if r.RuleToc, err = encodeJSON(s.RuleToc); err != nil {
		return Row{}, err
	}
	if r.RuleContent, err = encodeJSON(s.RuleContent); err != nil {
		return Row{}, err
	}
	return r, nil
}

// BookSource decodes the row, materializing every rule group as a struct.
func (r *Row) BookSource() (*entity.BookSource, error) {
	s := &entity.BookSource{
		ID:              r.ID,
		BookSourceURL:   r.BookSourceURL,
		BookSourceName:  r.BookSourceName,
		BookSourceGroup: r.BookSourceGroup,
		BookSourceType:  r.BookSourceType,
		LoginURL:        r.LoginURL,
		Enabled:         r.Enabled,
		EnabledExplore:  r.EnabledExplore,
		CustomOrder:     r.CustomOrder,
		Weight:          r.Weight,
		LastUpdateTime:  r.LastUpdateTime,
		SearchURL:       r.SearchURL,
		ExploreURL:      r.ExploreURL,
	}
	if r.Header.Valid && r.Header.String != "" {
		if err := json.Unmarshal([]byte(r.Header.String), &s.Header); err != nil {
			return nil, fmt.Errorf("decode header of %s: %w", r.ID, err)
		}
	}
	if err := decodeJSON(r.RuleSearch, &s.RuleSearch); err != nil {
		return nil, fmt.Errorf("decode ruleSearch of %s: %w", r.ID, err)
	}
	if r.RuleExplore.Valid && r.RuleExplore.String != "" {
		var explore entity.SearchRule
		if err := decodeJSON(r.RuleExplore.String, &explore); err != nil {
			return nil, fmt.Errorf("decode ruleExplore of %s: %w", r.ID, err)
		}
		s.RuleExplore = &explore
	}
	if err := decodeJSON(r.RuleBookInfo, &s.RuleBookInfo); err != nil {
		return nil, fmt.Errorf("decode ruleBookInfo of %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.RuleToc, &s.RuleToc); err != nil {
		return nil, fmt.Errorf("decode ruleToc of %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.RuleContent, &s.RuleContent); err != nil {
		return nil, fmt.Errorf("decode ruleContent of %s: %w", r.ID, err)
	}
	return s, nil
}

// EncodeField validates one column of a partial update and converts the value
// to its storage form.
func EncodeField(column string, value any) (any, error) {
	kind, ok := writable[column]
	if !ok {
		if column == "id" || column == "lastUpdateTime" {
			return nil, fmt.Errorf("%w: %s is managed by the store", ErrInvalidField, column)
		}
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidField, column)
	}

	switch kind {
	case kindString, kindRequiredString:
		v, ok := value.(string)
		if !ok {
			return nil, wrongType(column, "string", value)
		}
		if kind == kindRequiredString && strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: %s must not be empty", ErrValidation, column)
		}
		return v, nil
	case kindInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		}
		return nil, wrongType(column, "integer", value)
	case kindBool:
		v, ok := value.(bool)
		if !ok {
			return nil, wrongType(column, "bool", value)
		}
		return v, nil
	case kindHeader:
		switch v := value.(type) {
		case nil:
			return sql.NullString{}, nil
		case entity.Headers:
			return encodeHeader(v)
		case map[string]string:
			return encodeHeader(v)
		}
		return nil, wrongType(column, "header map", value)
	case kindRule, kindNullableRule:
		return encodeRuleField(column, kind, value)
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidField, column)
}

func encodeRuleField(column string, kind columnKind, value any) (any, error) {
	var rule any
	switch column {
	case "ruleSearch", "ruleExplore":
		switch v := value.(type) {
		case entity.SearchRule:
			rule = v
		case *entity.SearchRule:
			if v != nil {
				rule = *v
			}
		}
	case "ruleBookInfo":
		switch v := value.(type) {
		case entity.BookInfoRule:
			rule = v
		case *entity.BookInfoRule:
			if v != nil {
				rule = *v
			}
		}
	case "ruleToc":
		switch v := value.(type) {
		case entity.TocRule:
			rule = v
		case *entity.TocRule:
			if v != nil {
				rule = *v
			}
		}
	case "ruleContent":
		switch v := value.(type) {
		case entity.ContentRule:
			rule = v
		case *entity.ContentRule:
			if v != nil {
				rule = *v
			}
		}
	}

	if rule == nil {
		if kind == kindNullableRule && isNil(value) {
			return sql.NullString{}, nil
		}
		return nil, wrongType(column, "rule object", value)
	}
	text, err := encodeJSON(rule)
	if err != nil {
		return nil, err
	}
	if kind == kindNullableRule {
		return sql.NullString{String: text, Valid: true}, nil
	}
	return text, nil
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	p, ok := value.(*entity.SearchRule)
	return ok && p == nil
}

func wrongType(column, want string, got any) error {
	return fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidField, column, want, got)
}

func encodeHeader(h map[string]string) (sql.NullString, error) {
	if len(h) == 0 {
		return sql.NullString{}, nil
	}
	text, err := encodeJSON(h)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: text, Valid: true}, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(data), nil
}

func decodeJSON(text string, v any) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return json.Unmarshal([]byte(text), v)
}
