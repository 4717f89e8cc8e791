package omnifetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/omnifetch/kit"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/store"
	"github.com/hazyhaar/omnifetch/shield"
)

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Shield shield.Config

	// MCPServer, when set, is served at /mcp over streamable HTTP.
	MCPServer *mcp.Server
}

// Handler returns the OmniFetch HTTP API.
func (s *Service) Handler(cfg HTTPConfig) http.Handler {
	if cfg.Shield.Logger == nil {
		cfg.Shield.Logger = s.log
	}
	if cfg.Shield.Exempt == nil {
		cfg.Shield.Exempt = []string{"/health", "/metrics"}
	}

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(cfg.Shield) {
		r.Use(mw)
	}
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/extract", s.handleExtract)
	r.Post("/detect", s.handleDetect)
	r.Post("/generate", s.handleGenerate)
	r.Post("/preview", s.handlePreview)
	r.Get("/run/{id}", s.handleRun)

	r.Route("/blueprints", func(r chi.Router) {
		r.Get("/", s.handleListBlueprints)
		r.Get("/{id}", s.handleGetBlueprint)
	})

	if cfg.MCPServer != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return cfg.MCPServer }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}
	return r
}

func (s *Service) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Extract(httpCtx(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Detect(httpCtx(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Generate(httpCtx(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Service) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Preview(httpCtx(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fo := FetchOptions{Wait: q.Get("wait")}
	if v := q.Get("timeout_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, invalid("timeout_ms", err))
			return
		}
		fo.TimeoutMS = n
	}
	resp, err := s.Run(httpCtx(r), chi.URLParam(r, "id"), fo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// BlueprintView is a stored blueprint plus its replay address.
type BlueprintView struct {
	*store.Blueprint
	Endpoint string `json:"endpoint"`
}

func (s *Service) blueprintViews(bps []*store.Blueprint) []BlueprintView {
	out := make([]BlueprintView, 0, len(bps))
	for _, bp := range bps {
		out = append(out, BlueprintView{Blueprint: bp, Endpoint: s.ReplayURL(bp.ID)})
	}
	return out
}

func (s *Service) handleListBlueprints(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, invalid("limit", err))
			return
		}
		limit = n
	}
	bps, err := s.ListBlueprints(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"blueprints": s.blueprintViews(bps),
	})
}

func (s *Service) handleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, err := s.GetBlueprint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BlueprintView{Blueprint: bp, Endpoint: s.ReplayURL(bp.ID)})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// errorResponse is the failure envelope shared by every endpoint.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    Kind   `json:"kind"`
}

func httpCtx(r *http.Request) context.Context {
	return kit.WithTransport(r.Context(), "http")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", Kind: KindInvalidRequest})
	case errors.Is(err, io.EOF):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty request body", Kind: KindInvalidRequest})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error(), Kind: KindInvalidRequest})
	}
	return false
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, code := Classify(err)
	log := shield.GetLogger(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("omnifetch: request failed", "kind", kind, "error", err)
	} else {
		log.Info("omnifetch: request rejected", "kind", kind, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
