// Package server exposes the transcription service over HTTP.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/fmueller/voxserve/internal/asr"
	"go.uber.org/zap"
)

//go:embed html/index.html
var htmlFS embed.FS

const (
	defaultMaxUploadBytes  = 100 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// Transcriber is the part of asr.Service the handlers depend on.
type Transcriber interface {
	Ready() bool
	Status() asr.Status
	Transcribe(ctx context.Context, upload asr.Upload) (asr.Result, error)
}

type Options struct {
	Addr            string
	MaxUploadBytes  int64
	IndexHTML       string
	Version         string
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

type Server struct {
	svc   Transcriber
	opts  Options
	log   *zap.Logger
	index *template.Template
	http  *http.Server
}

func New(svc Transcriber, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: transcriber is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	index, err := template.ParseFS(htmlFS, "html/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}

	s := &Server{
		svc:   svc,
		opts:  opts,
		log:   opts.Logger,
		index: index,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the routes wrapped in the middleware chain: request id,
// logging, then CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)

	return s.requestID(s.logRequest(cors(mux)))
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.log.Info("http server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
