package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
	"github.com/kbcore/ingest-pipeline/internal/observability/metrics"
)

// Router is the ingestion control plane: upload starts a pipeline,
// the rest inspects and steers it.
type Router struct {
	docs         ports.DocumentRepository
	pipelines    ports.PipelineRepository
	segments     ports.SegmentRepository
	orchestrator ports.PipelineOrchestrator
	blobs        ports.BlobStore
	httpMetrics  *metrics.HTTPServerMetrics
	service      string

	newID func() string
	now   func() time.Time
}

func NewRouter(
	docs ports.DocumentRepository,
	pipelines ports.PipelineRepository,
	segments ports.SegmentRepository,
	orchestrator ports.PipelineOrchestrator,
	blobs ports.BlobStore,
	httpMetrics *metrics.HTTPServerMetrics,
	service string,
) *Router {
	return &Router{
		docs:         docs,
		pipelines:    pipelines,
		segments:     segments,
		orchestrator: orchestrator,
		blobs:        blobs,
		httpMetrics:  httpMetrics,
		service:      service,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentSubresource)

	var handler http.Handler = mux
	if rt.httpMetrics != nil {
		handler = rt.httpMetrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	docType := domain.DetectDocumentType(mimeType)
	if docType == domain.TypeUnknown {
		writeError(w, domain.WrapError(domain.ErrUnsupportedType, "upload document",
			fmt.Errorf("mime type %q", mimeType)))
		return
	}

	now := rt.now().UTC()
	doc := &domain.Document{
		ID:        rt.newID(),
		Filename:  fileHeader.Filename,
		MimeType:  mimeType,
		Type:      docType,
		AgentID:   strings.TrimSpace(r.FormValue("agent_id")),
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.StoragePath = doc.ID + "/" + sanitizeFilename(doc.Filename)

	if err := rt.blobs.Put(r.Context(), doc.StoragePath, data); err != nil {
		writeError(w, fmt.Errorf("store upload: %w", err))
		return
	}
	if err := rt.docs.Create(r.Context(), doc); err != nil {
		writeError(w, fmt.Errorf("create document: %w", err))
		return
	}
	if err := rt.orchestrator.StartPipeline(r.Context(), doc.ID, nil, true); err != nil {
		writeError(w, err)
		return
	}

	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordUpload(rt.service, string(docType))
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// documentSubresource routes /v1/documents/{id}[...] by hand; the
// surface is small enough that a router dependency buys nothing.
func (rt *Router) documentSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		rt.getDocument(w, r, id)
	case len(parts) == 2 && parts[1] == "pipeline" && r.Method == http.MethodGet:
		rt.getPipeline(w, r, id)
	case len(parts) == 2 && parts[1] == "segments" && r.Method == http.MethodGet:
		rt.listSegments(w, r, id)
	case len(parts) == 3 && parts[1] == "pipeline" && parts[2] == "relaunch" && r.Method == http.MethodPost:
		rt.relaunchStep(w, r, id)
	case len(parts) == 3 && parts[1] == "pipeline" && parts[2] == "complete-check" && r.Method == http.MethodPost:
		rt.completeCheck(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getPipeline(w http.ResponseWriter, r *http.Request, id string) {
	state, err := rt.pipelines.GetByDocumentID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (rt *Router) listSegments(w http.ResponseWriter, r *http.Request, id string) {
	segments, err := rt.segments.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if segments == nil {
		segments = []domain.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

func (rt *Router) relaunchStep(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		StepIndex  int               `json:"step_index"`
		Tool       string            `json:"tool"`
		ToolConfig map[string]string `json:"tool_config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	var selection *domain.ToolSelection
	if req.Tool != "" {
		selection = &domain.ToolSelection{Tool: req.Tool, Config: req.ToolConfig}
	}

	if err := rt.orchestrator.RelaunchStep(r.Context(), id, req.StepIndex, selection); err != nil {
		writeError(w, err)
		return
	}

	if rt.httpMetrics != nil {
		if state, err := rt.pipelines.GetByDocumentID(r.Context(), id); err == nil {
			if step, ok := state.StepAt(req.StepIndex); ok {
				rt.httpMetrics.RecordStepRelaunch(rt.service, step.Name)
			}
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document_id": id, "step_index": req.StepIndex})
}

func (rt *Router) completeCheck(w http.ResponseWriter, r *http.Request, id string) {
	completed, err := rt.orchestrator.CheckAndCompletePipeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": completed})
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		return "upload.bin"
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
