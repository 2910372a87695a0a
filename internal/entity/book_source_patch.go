package entity

import "maps"

// BookSourcePatch carries a partial update for the source identified by
// BookSourceURL. Nil fields are left untouched; a non-nil Header replaces the
// whole header map (an empty map clears it).
type BookSourcePatch struct {
	BookSourceURL   string        `json:"bookSourceUrl"`
	BookSourceName  *string       `json:"bookSourceName,omitempty"`
	BookSourceGroup *string       `json:"bookSourceGroup,omitempty"`
	BookSourceType  *int          `json:"bookSourceType,omitempty"`
	LoginURL        *string       `json:"loginUrl,omitempty"`
	Header          Headers       `json:"header,omitempty"`
	Enabled         *bool         `json:"enabled,omitempty"`
	EnabledExplore  *bool         `json:"enabledExplore,omitempty"`
	CustomOrder     *int          `json:"customOrder,omitempty"`
	Weight          *int          `json:"weight,omitempty"`
	SearchURL       *string       `json:"searchUrl,omitempty"`
	ExploreURL      *string       `json:"exploreUrl,omitempty"`
	RuleSearch      *SearchRule   `json:"ruleSearch,omitempty"`
	RuleExplore     *SearchRule   `json:"ruleExplore,omitempty"`
	RuleBookInfo    *BookInfoRule `json:"ruleBookInfo,omitempty"`
	RuleToc         *TocRule      `json:"ruleToc,omitempty"`
	RuleContent     *ContentRule  `json:"ruleContent,omitempty"`
}

// Apply merges the supplied fields over s.
func (p BookSourcePatch) Apply(s *BookSource) {
	if p.BookSourceName != nil {
		s.BookSourceName = *p.BookSourceName
	}
	if p.BookSourceGroup != nil {
		s.BookSourceGroup = *p.BookSourceGroup
	}
	if p.BookSourceType != nil {
		s.BookSourceType = *p.BookSourceType
	}
	if p.LoginURL != nil {
		s.LoginURL = *p.LoginURL
	}
	if p.Header != nil {
		s.Header = maps.Clone(p.Header)
		if len(s.Header) == 0 {
			s.Header = nil
		}
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.EnabledExplore != nil {
		s.EnabledExplore = *p.EnabledExplore
	}
	if p.CustomOrder != nil {
		s.CustomOrder = *p.CustomOrder
	}
	if p.Weight != nil {
		s.Weight = *p.Weight
	}
	if p.SearchURL != nil {
		s.SearchURL = *p.SearchURL
	}
	if p.ExploreURL != nil {
		s.ExploreURL = *p.ExploreURL
	}
	if p.RuleSearch != nil {
		s.RuleSearch = *p.RuleSearch
	}
	if p.RuleExplore != nil {
		r := *p.RuleExplore
		s.RuleExplore = &r
	}
	if p.RuleBookInfo != nil {
		s.RuleBookInfo = *p.RuleBookInfo
	}
	if p.RuleToc != nil {
		s.RuleToc = *p.RuleToc
	}
	if p.RuleContent != nil {
		s.RuleContent = *p.RuleContent
	}
}

// Fields returns the supplied fields keyed by storage column name.
func (p BookSourcePatch) Fields() map[string]any {
	f := map[string]any{}
	if p.BookSourceName != nil {
		f["bookSourceName"] = *p.BookSourceName
	}
	if p.BookSourceGroup != nil {
		f["bookSourceGroup"] = *p.BookSourceGroup
	}
	if p.BookSourceType != nil {
		f["bookSourceType"] = *p.BookSourceType
	}
	if p.LoginURL != nil {
		f["loginUrl"] = *p.LoginURL
	}
	if p.Header != nil {
		f["header"] = p.Header
	}
	if p.Enabled != nil {
		f["enabled"] = *p.Enabled
	}
	if p.EnabledExplore != nil {
		f["enabledExplore"] = *p.EnabledExplore
	}
	if p.CustomOrder != nil {
		f["customOrder"] = *p.CustomOrder
	}
	if p.Weight != nil {
		f["weight"] = *p.Weight
	}
	if p.SearchURL != nil {
		f["searchUrl"] = *p.SearchURL
	}
	if p.ExploreURL != nil {
		f["exploreUrl"] = *p.ExploreURL
	}
	if p.RuleSearch != nil {
		f["ruleSearch"] = *p.RuleSearch
	}
	if p.RuleExplore != nil {
		f["ruleExplore"] = *p.RuleExplore
	}
	if p.RuleBookInfo != nil {
		f["ruleBookInfo"] = *p.RuleBookInfo
	}
	if p.RuleToc != nil {
		f["ruleToc"] = *p.RuleToc
	}
	if p.RuleContent != nil {
		f["ruleContent"] = *p.RuleContent
	}
	return f
}
