package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/docanalysis"
	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/store"
)

// multipartMemory is the part of a multipart upload kept in memory; the
// rest spills to temp files.
const multipartMemory = 32 << 20

type handler struct {
	pipeline    docanalysis.Pipeline
	maxFileSize int64
	deadline    time.Duration
}

func newHandler(p docanalysis.Pipeline, cfg docanalysis.Config) *handler {
	return &handler{pipeline: p, maxFileSize: cfg.MaxFileSize, deadline: cfg.Deadline()}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", h.handleAnalyze)
	mux.HandleFunc("POST /corrections", h.handleCorrections)
	mux.HandleFunc("GET /statistics", h.handleStatistics)
	mux.HandleFunc("GET /prompt-optimization", h.handlePromptOptimization)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /analyze
// Accepts a multipart upload (field "file", optional "user_id") or the raw
// document as the request body with ?filename= and the Content-Type as its
// MIME type. The response is always an analysis result envelope.
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	// Slightly longer than the pipeline deadline so the envelope, not the
	// server, reports the timeout.
	ctx, cancel := context.WithTimeout(r.Context(), h.deadline+10*time.Second)
	defer cancel()

	req, err := h.readDocument(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.pipeline.Analyze(ctx, req)
	if !res.Success {
		slog.Warn("analyze failed",
			"analysis_id", res.AnalysisID,
			"file", req.Filename,
			"error_type", res.ErrorType,
			"error", res.Err())
	}
	writeJSON(w, statusFor(res), res)
}

// readDocument reads at most maxFileSize+1 bytes of the upload, which is
// enough for the pipeline to reject an oversized file without buffering
// all of it.
func (h *handler) readDocument(r *http.Request) (docanalysis.AnalyzeRequest, error) {
	req := docanalysis.AnalyzeRequest{UserID: r.Header.Get("X-User-ID")}
	limit := h.maxFileSize + 1

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return req, errors.New("invalid multipart form")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return req, errors.New("multipart field 'file' is required")
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, limit))
		if err != nil {
			return req, errors.New("failed to read upload")
		}
		req.Data = data
		req.Filename = filepath.Base(header.Filename)
		req.MIME = header.Header.Get("Content-Type")
		if u := r.FormValue("user_id"); u != "" {
			req.UserID = u
		}
		return req, nil
	}

	req.Filename = filepath.Base(r.URL.Query().Get("filename"))
	if req.Filename == "." || req.Filename == "/" || req.Filename == "" {
		return req, errors.New("filename query parameter is required for raw uploads")
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return req, errors.New("failed to read body")
	}
	req.Data = data
	req.MIME = mediaType
	if u := r.URL.Query().Get("user_id"); u != "" {
		req.UserID = u
	}
	return req, nil
}

// statusFor maps the envelope's error type to an HTTP status.
func statusFor(res *docanalysis.AnalysisResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorType {
	case docerr.KindFileSize:
		return http.StatusRequestEntityTooLarge
	case docerr.KindFormat:
		return http.StatusUnsupportedMediaType
	case docerr.KindEmptyContent, docerr.KindCorruption, docerr.KindEncoding:
		return http.StatusUnprocessableEntity
	case docerr.KindAIQuota:
		return http.StatusTooManyRequests
	case docerr.KindAITimeout, docerr.KindTimeout:
		return http.StatusGatewayTimeout
	case docerr.KindAIAuth, docerr.KindAIService:
		return http.StatusBadGateway
	case docerr.KindPermission:
		return http.StatusForbidden
	case docerr.KindMemory, docerr.KindDisk:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// POST /corrections
func (h *handler) handleCorrections(w http.ResponseWriter, r *http.Request) {
	var c store.Correction
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	if err := dec.Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if c.UserID == "" {
		c.UserID = r.Header.Get("X-User-ID")
	}

	res, err := h.pipeline.Learn(r.Context(), c)
	if err != nil {
		h.learningError(w, "learn", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /statistics?days=30
func (h *handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	stats, err := h.pipeline.Statistics(r.Context(), days)
	if err != nil {
		h.learningError(w, "statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /prompt-optimization?doc_type=pdf&category=...
func (h *handler) handlePromptOptimization(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docType := strings.TrimSpace(q.Get("doc_type"))
	if docType == "" {
		writeError(w, http.StatusBadRequest, "doc_type is required")
		return
	}

	po, err := h.pipeline.PromptOptimization(r.Context(), docType, strings.TrimSpace(q.Get("category")))
	if err != nil {
		h.learningError(w, "prompt optimization", err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	health := h.pipeline.HealthCheck(ctx)
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *handler) learningError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, docanalysis.ErrLearningStoreDisabled):
		writeError(w, http.StatusServiceUnavailable, "learning store disabled")
	case errors.Is(err, docanalysis.ErrInvalidCorrection):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(op+" error", "error", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
