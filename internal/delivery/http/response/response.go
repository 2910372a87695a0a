package response

import (
	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/usecase"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Sources int    `json:"sources"`
}

type ToggleResponse struct {
	URL     string `json:"bookSourceUrl"`
	Enabled bool   `json:"enabled"`
}

type DeleteResponse struct {
	Status string `json:"status"`
	URL    string `json:"bookSourceUrl"`
}

// SearchResponse is returned by /api/search for both single-source and
// multi-source searches. Failures is empty for a single source.
type SearchResponse struct {
	Books    []entity.SearchBook     `json:"books"`
	Failures []usecase.SourceFailure `json:"failures"`
}
