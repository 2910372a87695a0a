package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
	"go.uber.org/zap"
)

// ImportSkip describes one entry that was not imported.
type ImportSkip struct {
	Index  int    `json:"index"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Imported []string     `json:"imported"`
	Skipped  []ImportSkip `json:"skipped"`
}

// Importer moves book sources in and out of the registry as JSON documents.
type Importer struct {
	registry *Registry
	fetcher  repository.PageFetcher
	logger   *zap.Logger
}

// NewImporter creates a new Importer.
func NewImporter(registry *Registry, fetcher repository.PageFetcher, logger *zap.Logger) *Importer {
	return &Importer{registry: registry, fetcher: fetcher, logger: logger}
}

// ImportJSON adds every source in data, which holds one source object or an
// array of them. Entries that are invalid or fail to persist are reported in
// Skipped; only a document that is not JSON at all is an error.
func (im *Importer) ImportJSON(ctx context.Context, data []byte) (*ImportReport, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(data), []byte("\xef\xbb\xbf")))
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: import document is not valid JSON", repository.ErrValidation)
	}

	var items []json.RawMessage
	switch {
	case bytes.HasPrefix(data, []byte("[")):
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: import document: %w", repository.ErrValidation, err)
		}
	case bytes.HasPrefix(data, []byte("{")):
		items = []json.RawMessage{data}
	default:
		return nil, fmt.Errorf("%w: import document is not a JSON object or array", repository.ErrValidation)
	}

	report := &ImportReport{Imported: []string{}, Skipped: []ImportSkip{}}
	for i, item := range items {
		src, err := decodeImportItem(item)
		if err != nil {
			report.Skipped = append(report.Skipped, ImportSkip{Index: i, URL: src.BookSourceURL, Reason: err.Error()})
			continue
		}
		if _, err := im.registry.Add(ctx, src); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			report.Skipped = append(report.Skipped, ImportSkip{Index: i, URL: src.BookSourceURL, Reason: err.Error()})
			continue
		}
		report.Imported = append(report.Imported, src.BookSourceURL)
	}

	im.logger.Info("book sources imported",
		zap.Int("imported", len(report.Imported)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func decodeImportItem(item json.RawMessage) (*entity.BookSource, error) {
	src := &entity.BookSource{}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(item, &keys); err != nil {
		return src, fmt.Errorf("not a source object: %w", err)
	}
	if err := json.Unmarshal(item, src); err != nil {
		return src, fmt.Errorf("decode: %w", err)
	}

	var missing []string
	missing = append(missing, src.MissingFields()...)
	if raw, ok := keys["ruleSearch"]; !ok || string(raw) == "null" {
		missing = append(missing, "ruleSearch")
	}
	if len(missing) > 0 {
		return src, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return src, nil
}

// ImportURL downloads a source document and imports it.
func (im *Importer) ImportURL(ctx context.Context, url string) (*ImportReport, error) {
	res, err := im.fetcher.Fetch(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", url, err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("import %s: %w: status %d", url, repository.ErrNetwork, res.StatusCode)
	}
	return im.ImportJSON(ctx, res.Body)
}

// ExportJSON renders every registered source as a JSON array that ImportJSON
// accepts. Store ids are left out.
func (im *Importer) ExportJSON() ([]byte, error) {
	all := im.registry.GetAll()
	for _, s := range all {
		s.ID = ""
	}
	return json.MarshalIndent(all, "", "  ")
}
