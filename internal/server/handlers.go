package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/fmueller/voxserve/internal/asr"
	"go.uber.org/zap"
)

const notReadyDetail = "Model still loading..."

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.opts.IndexHTML != "" {
		page, err := os.ReadFile(s.opts.IndexHTML)
		if err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(page)
			return
		}
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to read index page; serving built-in page", zap.String("path", s.opts.IndexHTML), zap.Error(err))
		}
	}

	status := s.svc.Status()
	data := struct {
		Model   string
		Device  string
		Status  string
		Version string
	}{
		Model:   status.Model,
		Device:  status.Device,
		Status:  status.Status,
		Version: s.opts.Version,
	}

	var page bytes.Buffer
	if err := s.index.Execute(&page, data); err != nil {
		s.log.Error("index template failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "template error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = page.WriteTo(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Ready() {
		writeError(w, http.StatusServiceUnavailable, notReadyDetail)
		return
	}

	requestID := RequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.log.Error("invalid upload", zap.String("request_id", requestID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	result, err := s.svc.Transcribe(r.Context(), asr.Upload{
		Filename:  header.Filename,
		Body:      file,
		RequestID: requestID,
	})
	if errors.Is(err, asr.ErrNotReady) {
		writeError(w, http.StatusServiceUnavailable, notReadyDetail)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}
