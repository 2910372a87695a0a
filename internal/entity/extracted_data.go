package entity

// SearchBook is one hit on a search or explore result page.
type SearchBook struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Kind        string `json:"kind"`
	LastChapter string `json:"lastChapter"`
	Intro       string `json:"intro"`
	CoverURL    string `json:"coverUrl"`
	BookURL     string `json:"bookUrl"`
	Origin      string `json:"origin"` // bookSourceUrl of the source that produced it
}

// BookInfo is the detail record extracted from a book page.
type BookInfo struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Kind        string `json:"kind"`
	LastChapter string `json:"lastChapter"`
	Intro       string `json:"intro"`
	CoverURL    string `json:"coverUrl"`
	BookURL     string `json:"bookUrl"`
	TocURL      string `json:"tocUrl"`
}

// Chapter is one entry of a table of contents, in document order.
type Chapter struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	URL   string `json:"url"`
	IsVip bool   `json:"isVip"`
}

// ChapterContent is the cleaned body of a chapter.
type ChapterContent struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Pages   int    `json:"pages"`
}

// ExploreEntry is one discovery category parsed from a source's exploreUrl.
type ExploreEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
