package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/casegen/internal/consistency"
	"github.com/joelkehle/casegen/internal/export"
	"github.com/joelkehle/casegen/internal/generate"
	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
	"github.com/joelkehle/casegen/internal/segment"
	"github.com/joelkehle/casegen/internal/store"
)

// Generator is the model-backed half of the API.
type Generator interface {
	GenerateTestCases(ctx context.Context, req generate.TestCaseRequest) (generate.Result, error)
	AnalyzeRequirements(ctx context.Context, document string) (generate.Analysis, error)
	GenerateFromRequirements(ctx context.Context, requirements []schema.Record) (generate.Result, error)
}

// RequirementStore persists business requirements.
type RequirementStore interface {
	Create(ctx context.Context, q store.Requirement) (store.Requirement, error)
	ReadAll(ctx context.Context) ([]store.Requirement, error)
	ReadByID(ctx context.Context, requirementID string) (store.Requirement, error)
	Update(ctx context.Context, q store.Requirement) (store.Requirement, error)
	Delete(ctx context.Context, requirementID string) error
	SaveCollection(ctx context.Context, c recovery.Collection) (int, error)
}

type Options struct {
	// Generator may be nil; generation routes then answer 503.
	Generator Generator
	// Store may be nil; requirement routes then answer 503.
	Store        RequirementStore
	PDF          export.Renderer
	Logger       *zap.Logger
	Reflow       segment.ReflowMode
	MaxBodyBytes int64
}

type Server struct {
	gen       Generator
	store     RequirementStore
	pdf       export.Renderer
	logger    *zap.Logger
	maxBody   int64
	now       func() time.Time
	pipelines map[*schema.Schema]*recovery.Pipeline
}

func NewServer(opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	s := &Server{
		gen:       opts.Generator,
		store:     opts.Store,
		pdf:       opts.PDF,
		logger:    logger,
		maxBody:   maxBody,
		now:       time.Now,
		pipelines: map[*schema.Schema]*recovery.Pipeline{},
	}
	for _, sc := range []*schema.Schema{schema.TestCase, schema.Requirement} {
		p, err := recovery.New(sc, recovery.Options{Reflow: opts.Reflow, Logger: logger})
		if err != nil {
			return nil, err
		}
		s.pipelines[sc] = p
	}
	return s.routes(), nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/testcases/generate", s.handleGenerate)
	mux.HandleFunc("POST /v1/testcases/parse", s.handleParse)
	mux.HandleFunc("POST /v1/testcases/from-requirements", s.handleFromRequirements)
	mux.HandleFunc("POST /v1/requirements/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /v1/requirements", s.handleListRequirements)
	mux.HandleFunc("POST /v1/requirements", s.handleCreateRequirement)
	mux.HandleFunc("GET /v1/requirements/{id}", s.handleGetRequirement)
	mux.HandleFunc("PUT /v1/requirements/{id}", s.handleUpdateRequirement)
	mux.HandleFunc("DELETE /v1/requirements/{id}", s.handleDeleteRequirement)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      code,
			"message":   message,
			"transient": status >= 500,
		},
	})
}

// writeFailure maps domain errors onto status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var ue *generate.UpstreamError
	switch {
	case errors.Is(err, generate.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &ue):
		s.logger.Warn("upstream failure", zap.String("stage", ue.Stage), zap.Error(ue.Err))
		writeError(w, http.StatusBadGateway, "upstream", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is required")
		return false
	}
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("body exceeds %d bytes", mbe.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

type collectionResponse struct {
	OK        bool                  `json:"ok"`
	Schema    string                `json:"schema"`
	Source    string                `json:"source"`
	Expected  int                   `json:"expected,omitempty"`
	Records   []schema.Record       `json:"records"`
	Warnings  []consistency.Warning `json:"warnings"`
	Attempts  int                   `json:"attempts,omitempty"`
	Annotated string                `json:"annotated,omitempty"`
}

func newCollectionResponse(c recovery.Collection) collectionResponse {
	resp := collectionResponse{
		OK:       true,
		Source:   c.Source,
		Expected: c.Expected,
		Records:  c.Records,
		Warnings: c.Warnings,
	}
	if c.Schema != nil {
		resp.Schema = c.Schema.Name
	}
	if resp.Records == nil {
		resp.Records = []schema.Record{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []consistency.Warning{}
	}
	return resp
}

// writeCollection answers with an export when ?format= is set and with
// the JSON envelope otherwise.
func (s *Server) writeCollection(w http.ResponseWriter, r *http.Request, c recovery.Collection, resp collectionResponse) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	f, err := export.ParseFormat(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	blob, err := export.Encode(r.Context(), f, c, s.pdf)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": export.Filename(c, f, s.now()),
	}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (s *Server) requireGenerator(w http.ResponseWriter) bool {
	if s.gen == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no language model configured")
		return false
	}
	return true
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no requirement store configured")
		return false
	}
	return true
}

type generateRequest struct {
	Description      string `json:"description"`
	Level            string `json:"level"`
	Priority         string `json:"priority"`
	Count            int    `json:"count"`
	IncludeEdgeCases *bool  `json:"include_edge_cases"`
	IncludeNegative  *bool  `json:"include_negative"`
	OutputFormat     string `json:"output_format"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.requireGenerator(w) {
		return
	}
	var req generateRequest
	if !s.readBody(w, r, &req) {
		return
	}
	format, err := generate.ParseFormat(req.OutputFormat)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	res, err := s.gen.GenerateTestCases(r.Context(), generate.TestCaseRequest{
		Description:      req.Description,
		Level:            req.Level,
		Priority:         req.Priority,
		Count:            req.Count,
		IncludeEdgeCases: boolOr(req.IncludeEdgeCases, true),
		IncludeNegative:  boolOr(req.IncludeNegative, true),
		Format:           format,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	resp := newCollectionResponse(res.Collection)
	resp.Attempts = res.Attempts
	resp.Annotated = res.Annotated()
	s.writeCollection(w, r, res.Collection, resp)
}

type parseRequest struct {
	Text     string `json:"text"`
	Expected int    `json:"expected"`
	Schema   string `json:"schema"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !s.readBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	sc := schema.TestCase
	if req.Schema != "" {
		var ok bool
		if sc, ok = schema.Lookup(req.Schema); !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown schema %q", req.Schema))
			return
		}
	}
	c := s.pipelines[sc].Recover(req.Text, req.Expected)
	resp := newCollectionResponse(c)
	resp.Annotated = consistency.Annotate(req.Text, c.Warnings)
	s.writeCollection(w, r, c, resp)
}

type fromRequirementsRequest struct {
	RequirementIDs []string        `json:"requirement_ids"`
	Requirements   []schema.Record `json:"requirements"`
}

func (s *Server) handleFromRequirements(w http.ResponseWriter, r *http.Request) {
	if !s.requireGenerator(w) {
		return
	}
	var req fromRequirementsRequest
	if !s.readBody(w, r, &req) {
		return
	}
	reqs := req.Requirements
	if len(req.RequirementIDs) > 0 {
		if !s.requireStore(w) {
			return
		}
		for _, id := range req.RequirementIDs {
			q, err := s.store.ReadByID(r.Context(), id)
			if err != nil {
				s.writeFailure(w, err)
				return
			}
			reqs = append(reqs, q.Record())
		}
	}
	res, err := s.gen.GenerateFromRequirements(r.Context(), reqs)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	resp := newCollectionResponse(res.Collection)
	resp.Attempts = res.Attempts
	s.writeCollection(w, r, res.Collection, resp)
}

type analyzeRequest struct {
	Document string `json:"document"`
	Save     bool   `json:"save"`
}

type analyzeResponse struct {
	collectionResponse
	Report    string `json:"report"`
	Truncated bool   `json:"truncated"`
	Saved     int    `json:"saved"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.requireGenerator(w) {
		return
	}
	var req analyzeRequest
	if !s.readBody(w, r, &req) {
		return
	}
	out, err := s.gen.AnalyzeRequirements(r.Context(), req.Document)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	resp := analyzeResponse{
		collectionResponse: newCollectionResponse(out.Requirements.Collection),
		Report:             out.Report,
		Truncated:          out.Truncated,
	}
	resp.Attempts = out.Requirements.Attempts
	if req.Save && !out.Requirements.Collection.Empty() {
		if !s.requireStore(w) {
			return
		}
		n, err := s.store.SaveCollection(r.Context(), out.Requirements.Collection)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		resp.Saved = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRequirements(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rows, err := s.store.ReadAll(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if r.URL.Query().Get("format") != "" {
		c := recovery.Collection{Schema: schema.Requirement, Records: store.Records(rows), Source: "store"}
		s.writeCollection(w, r, c, collectionResponse{})
		return
	}
	if rows == nil {
		rows = []store.Requirement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requirements": rows})
}

func (s *Server) handleCreateRequirement(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var q store.Requirement
	if !s.readBody(w, r, &q) {
		return
	}
	if strings.TrimSpace(q.RequirementID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "requirement_id is required")
		return
	}
	created, err := s.store.Create(r.Context(), q)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "requirement": created})
}

func (s *Server) handleGetRequirement(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q, err := s.store.ReadByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requirement": q})
}

func (s *Server) handleUpdateRequirement(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var q store.Requirement
	if !s.readBody(w, r, &q) {
		return
	}
	q.RequirementID = r.PathValue("id")
	updated, err := s.store.Update(r.Context(), q)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requirement": updated})
}

func (s *Server) handleDeleteRequirement(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"generator": s.gen != nil,
		"store":     s.store != nil,
	})
}
