package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is allowed on top of MaxUploadBytes for form framing.
const multipartOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "model": s.deps.ModelName})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, errors.WithHintf(badRequest("file too large"), "maximum size is %d bytes", s.deps.MaxUploadBytes))
			return
		}
		s.writeError(w, r, badRequest("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	// one byte past the limit is enough for validation to reject it
	reader := io.Reader(file)
	if s.deps.MaxUploadBytes > 0 {
		reader = io.LimitReader(file, s.deps.MaxUploadBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, "failed to read upload"))
		return
	}

	doc, err := s.deps.Ingest.Upload(r.Context(), header.Filename, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UploadResponse{
		FileID:   doc.ID,
		Filename: doc.Filename,
		FileSize: doc.FileSize,
		Status:   doc.Status,
		Message:  "File uploaded successfully. Processing started.",
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("could not parse JSON body"))
		return
	}
	if req.DocumentID == "" {
		s.writeError(w, r, badRequest("document_id is required"))
		return
	}

	result, err := s.deps.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AnalyzeResponse{
		AnalysisID:      result.ID,
		Response:        result.Response,
		ExecutionTimeMs: result.ExecutionTimeMs,
		TokensUsed:      result.Usage.TotalTokens,
		Cached:          result.Cached,
		Error:           result.Error,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.deps.Store.ListDocuments(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ingest.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Document deleted successfully"})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	templates, err := s.deps.Store.ListTemplates(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if templates == nil {
		templates = []*models.PromptTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in models.TemplateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest("could not parse JSON body"))
		return
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" || in.PromptText == nil || strings.TrimSpace(*in.PromptText) == "" {
		s.writeError(w, r, badRequest("name and prompt_text are required"))
		return
	}

	tpl := &models.PromptTemplate{IsPublic: true}
	applyInput(tpl, in)
	if err := s.deps.Store.CreateTemplate(r.Context(), tpl); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.deps.Store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in models.TemplateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest("could not parse JSON body"))
		return
	}
	if in.PromptText != nil && strings.TrimSpace(*in.PromptText) == "" {
		s.writeError(w, r, badRequest("prompt_text cannot be empty"))
		return
	}
	tpl, err := s.deps.Store.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Template deleted successfully"})
}

func (s *Server) handleInitTemplates(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Store.SeedDefaults(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := "Templates already exist"
	if n > 0 {
		msg = fmt.Sprintf("Created %d default templates", n)
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: msg})
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	analyses, err := s.deps.Store.ListAnalyses(r.Context(), r.URL.Query().Get("document_id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if analyses == nil {
		analyses = []*models.AnalysisResult{}
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Store.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

// applyInput fills a new template from the request body.
func applyInput(tpl *models.PromptTemplate, in models.TemplateInput) {
	tpl.Name = *in.Name
	tpl.PromptText = *in.PromptText
	if in.Description != nil {
		tpl.Description = *in.Description
	}
	if in.Category != nil {
		tpl.Category = *in.Category
	}
	if in.ExampleOutput != nil {
		tpl.ExampleOutput = *in.ExampleOutput
	}
	if in.IsPublic != nil {
		tpl.IsPublic = *in.IsPublic
	}
	tpl.Variables = in.Variables
}
