package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/telemetry"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSuffix is used for uploads that arrive without a filename.
const DefaultSuffix = ".webm"

var (
	ErrNotReady       = errors.New("model still loading")
	ErrClosed         = errors.New("transcription service closed")
	ErrAlreadyStarted = errors.New("model load already started")
)

var suffixPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,16}$`)

// State is the model lifecycle of a Service. StateFailed is internal only:
// Status reports a failed load as "loading" so clients keep polling, and
// transcription requests get ErrNotReady.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Status is the readiness report served by the health endpoint.
type Status struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

// Upload is one audio file handed to Transcribe.
type Upload struct {
	Filename  string
	Body      io.Reader
	RequestID string
}

type Options struct {
	// Model and Device are reported by Status.
	Model  string
	Device string

	Language             string
	Workers              int
	UploadDir            string
	SilenceGate          bool
	SilenceThresholdDBFS float64

	// Provision resolves the model weights. NewEngine builds the engine
	// for them. Both run once, inside Load.
	Provision func(ctx context.Context) (whisper.ResolvedModel, error)
	NewEngine func(model whisper.ResolvedModel) (whisper.Engine, error)

	Recorder *telemetry.Recorder
	Logger   *zap.Logger
}

// Service owns the process-wide model handle. It starts in StateLoading;
// Load moves it to StateReady or StateFailed exactly once. Inference runs
// on a fixed pool of workers.
type Service struct {
	opts Options
	log  *zap.Logger

	state   atomic.Int32
	started atomic.Bool

	// mu guards engine and closed. model and engine are written once by
	// Load before the state turns ready.
	mu     sync.Mutex
	closed bool
	model  whisper.ResolvedModel
	engine whisper.Engine

	jobs      chan job
	done      chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once
}

type job struct {
	ctx    context.Context
	req    whisper.TranscriptionRequest
	result chan jobResult
}

type jobResult struct {
	out     whisper.Transcription
	elapsed time.Duration
	err     error
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Model == "" {
		opts.Model = whisper.ModelID("")
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}

	s := &Service{
		opts: opts,
		log:  opts.Logger,
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	s.state.Store(int32(StateLoading))
	return s
}

// Load provisions the model, builds the engine and starts the workers.
// It may be called once; the returned error is fatal for the process.
func (s *Service) Load(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if s.opts.Provision == nil || s.opts.NewEngine == nil {
		s.state.Store(int32(StateFailed))
		return errors.New("asr: Provision and NewEngine are required")
	}

	started := time.Now()
	s.log.Info("loading model", zap.String("model", s.opts.Model), zap.String("device", s.opts.Device), zap.Int("workers", s.opts.Workers))

	model, err := s.opts.Provision(ctx)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("provision model: %w", err)
	}

	engine, err := s.opts.NewEngine(model)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("load model %s: %w", model.Name, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = engine.Close()
		s.state.Store(int32(StateFailed))
		return ErrClosed
	}
	s.model = model
	s.engine = engine
	for i := 0; i < s.opts.Workers; i++ {
		s.workers.Add(1)
		go s.work()
	}
	s.state.Store(int32(StateReady))
	s.mu.Unlock()

	s.log.Info("model loaded",
		zap.String("model", s.opts.Model),
		zap.String("path", model.Path),
		zap.String("engine", engine.Name()),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) Ready() bool {
	return s.State() == StateReady
}

// Status reports "ready" once the model is loaded and "loading" before.
func (s *Service) Status() Status {
	status := StateLoading.String()
	if s.Ready() {
		status = StateReady.String()
	}
	return Status{Status: status, Model: s.opts.Model, Device: s.opts.Device}
}

// Transcribe persists the upload to a temporary file, runs inference on it
// and removes the file on every path.
func (s *Service) Transcribe(ctx context.Context, upload Upload) (Result, error) {
	if !s.Ready() {
		s.opts.Recorder.Rejected()
		return Result{}, ErrNotReady
	}

	finish := s.opts.Recorder.Begin()
	logger := s.log.With(zap.String("filename", upload.Filename))
	if upload.RequestID != "" {
		logger = logger.With(zap.String("request_id", upload.RequestID))
	}

	if upload.Body == nil {
		err := errors.New("no audio data in upload")
		finish(0, 0, err)
		return Result{}, err
	}

	path, size, err := s.persist(upload)
	if path != "" {
		defer s.removeTemp(path)
	}
	if err != nil {
		logger.Error("failed to store upload", zap.Int64("bytes", size), zap.Error(err))
		finish(size, 0, err)
		return Result{}, err
	}

	logger.Info("processing upload", zap.Int64("bytes", size))
	result, inference, err := s.run(ctx, path, logger)
	finish(size, inference, err)
	if err != nil {
		logger.Error("transcription failed", zap.Int64("bytes", size), zap.Error(err))
		return Result{}, err
	}

	logger.Info("transcription finished",
		zap.Int64("bytes", size),
		zap.Float64("elapsed_seconds", result.ElapsedSeconds),
		zap.Int("segments", len(result.Timestamps)),
	)
	return result, nil
}

// TranscribeFile runs inference on an existing file. The file is left in
// place.
func (s *Service) TranscribeFile(ctx context.Context, path string) (Result, error) {
	if !s.Ready() {
		s.opts.Recorder.Rejected()
		return Result{}, ErrNotReady
	}

	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("audio file not found: %w", err)
	}

	finish := s.opts.Recorder.Begin()
	result, inference, err := s.run(ctx, path, s.log.With(zap.String("audio", path)))
	finish(info.Size(), inference, err)
	return result, err
}

// Close stops the workers and releases the engine. Queued callers get
// ErrClosed.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		engine := s.engine
		close(s.done)
		s.mu.Unlock()

		s.workers.Wait()
		if engine != nil {
			err = engine.Close()
		}
	})
	return err
}

func (s *Service) run(ctx context.Context, path string, logger *zap.Logger) (Result, time.Duration, error) {
	if s.silent(path, logger) {
		s.opts.Recorder.Silent()
		return emptyResult(0), 0, nil
	}

	res := s.submit(ctx, whisper.TranscriptionRequest{
		AudioPath: path,
		ModelPath: s.model.Path,
		Language:  s.opts.Language,
	})
	if res.err != nil {
		return Result{}, res.elapsed, res.err
	}
	return Shape(res.out, res.elapsed), res.elapsed, nil
}

// submit hands req to a worker. Once a worker has accepted the job the
// caller waits for it to finish so the audio file outlives inference; the
// engine observes ctx itself.
func (s *Service) submit(ctx context.Context, req whisper.TranscriptionRequest) jobResult {
	j := job{ctx: ctx, req: req, result: make(chan jobResult, 1)}

	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return jobResult{err: ctx.Err()}
	case <-s.done:
		return jobResult{err: ErrClosed}
	}

	return <-j.result
}

func (s *Service) work() {
	defer s.workers.Done()

	for {
		select {
		case <-s.done:
			return
		case j := <-s.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- jobResult{err: err}
				continue
			}

			started := time.Now()
			out, err := s.engine.Transcribe(j.ctx, j.req)
			j.result <- jobResult{out: out, elapsed: time.Since(started), err: err}
		}
	}
}

func (s *Service) persist(upload Upload) (string, int64, error) {
	dir := s.opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, "upload-"+uuid.NewString()+UploadSuffix(upload.Filename))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	size, err := io.Copy(file, upload.Body)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return path, size, fmt.Errorf("write upload: %w", err)
	}
	return path, size, nil
}

func (s *Service) removeTemp(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		s.log.Debug("failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}

func (s *Service) silent(path string, logger *zap.Logger) bool {
	if !s.opts.SilenceGate || !strings.EqualFold(filepath.Ext(path), ".wav") {
		return false
	}

	silent, metrics, err := audio.IsSilentWAV(path, s.opts.SilenceThresholdDBFS)
	if err != nil {
		logger.Warn("silence gate analysis failed; continuing transcription", zap.Error(err))
		return false
	}
	if !silent {
		return false
	}

	logger.Info(
		"audio considered silent; skipping transcription",
		zap.Float64("rms_dbfs", metrics.RMSdBFS),
		zap.Float64("peak_dbfs", metrics.PeakdBFS),
		zap.Float64("threshold_dbfs", s.opts.SilenceThresholdDBFS),
	)
	return true
}

// UploadSuffix derives the temp file suffix from the client filename. An
// absent filename yields DefaultSuffix; a name without a usable extension
// yields no suffix.
func UploadSuffix(filename string) string {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return DefaultSuffix
	}

	ext := filepath.Ext(filepath.Base(strings.ReplaceAll(filename, `\`, "/")))
	if !suffixPattern.MatchString(ext) {
		return ""
	}
	return ext
}
