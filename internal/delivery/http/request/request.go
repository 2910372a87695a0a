package request

// ImportURLRequest asks the server to download and import a source document.
type ImportURLRequest struct {
	URL string `json:"url"`
}
