package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/user/booksource-service/internal/delivery/http/request"
	"github.com/user/booksource-service/internal/delivery/http/response"
	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
	"github.com/user/booksource-service/internal/usecase"
	"go.uber.org/zap"
)

const maxRequestBody = 10 << 20

type Handler struct {
	registry    *usecase.Registry
	interpreter *usecase.Interpreter
	importer    *usecase.Importer
	logger      *zap.Logger
}

func NewHandler(registry *usecase.Registry, interpreter *usecase.Interpreter, importer *usecase.Importer, logger *zap.Logger) *Handler {
	return &Handler{
		registry:    registry,
		interpreter: interpreter,
		importer:    importer,
		logger:      logger,
	}
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.registry.Ready(ctx); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, response.HealthResponse{Status: "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, response.HealthResponse{Status: "ok", Sources: len(h.registry.GetAll())})
}

// --- Source management ---

func (h *Handler) HandleListSources(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	q := r.URL.Query()
	var sources []*entity.BookSource
	switch {
	case q.Get("group") != "":
		sources = h.registry.ByGroup(q.Get("group"))
	case q.Get("q") != "":
		sources = h.registry.Filter(q.Get("q"))
	default:
		sources = h.registry.GetAll()
	}
	h.writeJSON(w, http.StatusOK, sources)
}

func (h *Handler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.registry.Groups())
}

func (h *Handler) HandleGetSource(w http.ResponseWriter, r *http.Request) {
	src, ok := h.sourceParam(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, src)
}

func (h *Handler) HandleAddSource(w http.ResponseWriter, r *http.Request) {
	var src entity.BookSource
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&src); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	added, err := h.registry.Add(r.Context(), &src)
	if err != nil {
		h.writeError(w, "add source", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, added)
}

func (h *Handler) HandleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var patch entity.BookSourcePatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&patch); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if patch.BookSourceURL == "" {
		h.writeJSONError(w, "bookSourceUrl is required", http.StatusBadRequest)
		return
	}
	updated, err := h.registry.Update(r.Context(), patch)
	if err != nil {
		h.writeError(w, "update source", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleToggleSource(w http.ResponseWriter, r *http.Request) {
	url, ok := h.requiredQuery(w, r, "url")
	if !ok {
		return
	}
	enabled, err := h.registry.Toggle(r.Context(), url)
	if err != nil {
		h.writeError(w, "toggle source", err)
		return
	}
	h.writeJSON(w, http.StatusOK, response.ToggleResponse{URL: url, Enabled: enabled})
}

func (h *Handler) HandleDeleteSource(w http.ResponseWriter, r *http.Request) {
	url, ok := h.requiredQuery(w, r, "url")
	if !ok {
		return
	}
	if err := h.registry.Delete(r.Context(), url); err != nil {
		h.writeError(w, "delete source", err)
		return
	}
	h.writeJSON(w, http.StatusOK, response.DeleteResponse{Status: "deleted", URL: url})
}

// HandleImport accepts a source document as the body, or {"url": "..."} to
// download one.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var report *usecase.ImportReport
	if req, isURL := importURLRequest(body); isURL {
		report, err = h.importer.ImportURL(r.Context(), req.URL)
	} else {
		report, err = h.importer.ImportJSON(r.Context(), body)
	}
	if err != nil {
		h.writeError(w, "import sources", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func importURLRequest(body []byte) (request.ImportURLRequest, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil || len(keys) != 1 {
		return request.ImportURLRequest{}, false
	}
	var req request.ImportURLRequest
	if err := json.Unmarshal(body, &req); err != nil || req.URL == "" {
		return request.ImportURLRequest{}, false
	}
	return req, true
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	data, err := h.importer.ExportJSON()
	if err != nil {
		h.writeError(w, "export sources", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="booksources.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Rule interpretation ---

// HandleSearch searches one source, or every enabled source (optionally
// limited to a group) when no source is given.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	key, ok := h.requiredQuery(w, r, "key")
	if !ok {
		return
	}

	if r.URL.Query().Get("source") == "" {
		if !h.ready(w, r) {
			return
		}
		sources := h.registry.Enabled()
		if group := r.URL.Query().Get("group"); group != "" {
			sources = filterGroup(sources, h.registry.ByGroup(group))
		}
		res := h.interpreter.SearchAll(r.Context(), sources, key)
		h.writeJSON(w, http.StatusOK, response.SearchResponse{Books: res.Books, Failures: res.Failures})
		return
	}

	src, ok := h.sourceParam(w, r, "source")
	if !ok {
		return
	}
	books, err := h.interpreter.Search(r.Context(), src, key)
	if err != nil {
		h.writeError(w, "search", err)
		return
	}
	h.writeJSON(w, http.StatusOK, response.SearchResponse{Books: books, Failures: []usecase.SourceFailure{}})
}

func filterGroup(enabled, inGroup []*entity.BookSource) []*entity.BookSource {
	keep := make(map[string]struct{}, len(inGroup))
	for _, s := range inGroup {
		keep[s.BookSourceURL] = struct{}{}
	}
	out := enabled[:0]
	for _, s := range enabled {
		if _, ok := keep[s.BookSourceURL]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *Handler) HandleExploreEntries(w http.ResponseWriter, r *http.Request) {
	src, ok := h.sourceParam(w, r, "source")
	if !ok {
		return
	}
	entries := h.interpreter.ExploreEntries(src)
	if entries == nil {
		entries = []entity.ExploreEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleExplore(w http.ResponseWriter, r *http.Request) {
	src, target, ok := h.sourceAndURL(w, r)
	if !ok {
		return
	}
	books, err := h.interpreter.Explore(r.Context(), src, target)
	if err != nil {
		h.writeError(w, "explore", err)
		return
	}
	h.writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleBookInfo(w http.ResponseWriter, r *http.Request) {
	src, target, ok := h.sourceAndURL(w, r)
	if !ok {
		return
	}
	info, err := h.interpreter.GetBookInfo(r.Context(), src, target)
	if err != nil {
		h.writeError(w, "book info", err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleChapterList(w http.ResponseWriter, r *http.Request) {
	src, target, ok := h.sourceAndURL(w, r)
	if !ok {
		return
	}
	chapters, err := h.interpreter.GetChapterList(r.Context(), src, target)
	if err != nil {
		h.writeError(w, "chapter list", err)
		return
	}
	h.writeJSON(w, http.StatusOK, chapters)
}

func (h *Handler) HandleContent(w http.ResponseWriter, r *http.Request) {
	src, target, ok := h.sourceAndURL(w, r)
	if !ok {
		return
	}
	content, err := h.interpreter.GetContent(r.Context(), src, target)
	if err != nil {
		h.writeError(w, "content", err)
		return
	}
	h.writeJSON(w, http.StatusOK, content)
}

// --- Helpers ---

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) bool {
	if err := h.registry.Ready(r.Context()); err != nil {
		h.writeError(w, "registry", err)
		return false
	}
	return true
}

func (h *Handler) requiredQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		h.writeJSONError(w, name+" query parameter is required", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

// sourceParam looks up the registered source named by the query parameter
// (default "url").
func (h *Handler) sourceParam(w http.ResponseWriter, r *http.Request, param ...string) (*entity.BookSource, bool) {
	name := "url"
	if len(param) > 0 {
		name = param[0]
	}
	url, ok := h.requiredQuery(w, r, name)
	if !ok || !h.ready(w, r) {
		return nil, false
	}
	src, found := h.registry.Get(url)
	if !found {
		h.writeJSONError(w, "Book source not found", http.StatusNotFound)
		return nil, false
	}
	return src, true
}

func (h *Handler) sourceAndURL(w http.ResponseWriter, r *http.Request) (*entity.BookSource, string, bool) {
	target, ok := h.requiredQuery(w, r, "url")
	if !ok {
		return nil, "", false
	}
	src, ok := h.sourceParam(w, r, "source")
	if !ok {
		return nil, "", false
	}
	return src, target, true
}

// statusFor maps the repository error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrValidation), errors.Is(err, repository.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrNetwork), errors.Is(err, repository.ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("action", action), zap.Error(err))
		h.writeJSONError(w, "Internal server error", status)
		return
	}
	h.logger.Debug("request rejected", zap.String("action", action), zap.Int("status", status), zap.Error(err))
	h.writeJSONError(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
