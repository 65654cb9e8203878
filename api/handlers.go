// Package api exposes the run lifecycle over HTTP and WebSocket: start a
// run, attach to its stream, submit input at interrupt gates, and manage
// dataset uploads and generated artifacts.
package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/interflow/attach"
	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/internal/metrics"
	"github.com/BaSui01/interflow/pipeline"
	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// Handler serves the run API.
type Handler struct {
	engine      *engine.Engine
	attachments attach.Store
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewHandler creates the API handler. Attachments and metrics may be nil;
// upload and artifact endpoints then answer 404s.
func NewHandler(eng *engine.Engine, attachments attach.Store, collector *metrics.Collector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:      eng,
		attachments: attachments,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "api")),
	}
}

// Routes builds the route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /v1/workflows", h.handleWorkflows)

	mux.HandleFunc("POST /v1/runs", h.handleStartRun)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/stream", h.handleStream)
	mux.HandleFunc("POST /v1/runs/{id}/input", h.handleResume)
	mux.HandleFunc("POST /v1/runs/{id}/interrupt", h.handleInterrupt)
	mux.HandleFunc("GET /v1/runs/{id}/sentences", h.handleSentences)

	mux.HandleFunc("POST /v1/uploads", h.handleUpload)
	mux.HandleFunc("GET /v1/artifacts/{ref}", h.handleArtifact)

	return h.instrument(mux)
}

// instrument records request counts and latency per route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = r.URL.Path
		}
		h.metrics.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	infos := make([]WorkflowInfo, 0)
	for _, name := range h.engine.Workflows() {
		g, err := h.engine.Graph(name)
		if err != nil {
			continue
		}
		infos = append(infos, WorkflowInfo{Name: name, Stages: g.Stages()})
	}
	WriteSuccess(w, infos)
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	st, err := h.engine.Start(r.Context(), engine.StartRequest{
		WorkflowType:    req.WorkflowType,
		OriginalRequest: req.Request,
		AttachmentRef:   req.AttachmentRef,
		AttachmentName:  req.AttachmentName,
	})
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      h.view(st),
		Timestamp: time.Now(),
	})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.view(st))
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	st, err := h.engine.Resume(r.Context(), r.PathValue("id"), req.Input())
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.view(st))
}

func (h *Handler) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req InterruptRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	st, err := h.engine.InterruptMessage(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.view(st))
}

func (h *Handler) handleSentences(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	units := st.EditUnits
	if len(units) == 0 {
		// Workflows without an edit stage still get a sentence view of
		// whatever content is under review.
		if content, ok := reviewedContent(h.engine, st); ok {
			units = pipeline.DeriveUnits(content)
		}
	}

	resp := SentencesResponse{
		RunID:         st.RunID,
		RevisionCount: st.RevisionCount,
		Sentences:     make([]SentenceView, 0, len(units)),
	}
	for _, u := range units {
		resp.Sentences = append(resp.Sentences, SentenceView(u))
	}
	WriteSuccess(w, resp)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.attachments == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrValidationFailure, "uploads are not enabled", h.logger)
		return
	}

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidationFailure, "invalid multipart form", h.logger)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidationFailure, "file field is required", h.logger)
		return
	}
	defer file.Close()

	ref, err := h.attachments.Save(header.Filename, file)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("upload accepted",
		zap.String("ref", ref),
		zap.String("name", header.Filename))
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      UploadResponse{Ref: ref, Name: header.Filename},
		Timestamp: time.Now(),
	})
}

func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if h.attachments == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrValidationFailure, "artifacts are not enabled", h.logger)
		return
	}

	path, err := h.attachments.Path(r.PathValue("ref"))
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	http.ServeFile(w, r, path)
}

// view builds a RunView, attaching the accepted input kinds when the run
// is awaiting input.
func (h *Handler) view(st *run.State) *RunView {
	var accepted []types.InputKind
	if st.Status == run.StatusPaused && st.PendingInput == nil {
		if g, err := h.engine.Graph(st.WorkflowType); err == nil {
			if node, ok := g.Node(st.CurrentStage); ok && node.Interrupt {
				accepted = node.AllowedKinds()
			}
		}
	}
	return viewOf(st, accepted)
}

// reviewedContent resolves the output under review at the run's current
// gate.
func reviewedContent(eng *engine.Engine, st *run.State) (string, bool) {
	g, err := eng.Graph(st.WorkflowType)
	if err != nil {
		return "", false
	}
	node, ok := g.Node(st.CurrentStage)
	if !ok {
		return "", false
	}
	if cs, isGate := node.Stage.(*pipeline.ControlStage); isGate && cs.ReviewStage != "" {
		return st.Output(cs.ReviewStage)
	}
	return "", false
}

// isWebSocketRequest reports whether the request asks for an upgrade.
func isWebSocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
