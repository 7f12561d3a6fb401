package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmueller/voxserve/internal/asr"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	out whisper.Transcription

	mu     sync.Mutex
	seen   []string
	closed atomic.Bool
}

func (s *stubEngine) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (whisper.Transcription, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req.AudioPath)
	s.mu.Unlock()
	return s.out, nil
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *stubEngine) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

type servedApp struct {
	app  *appState
	addr chan string
	done chan error
	stop context.CancelFunc
}

func startServe(t *testing.T, app *appState) *servedApp {
	t.Helper()

	app.noProgress = true
	app.cfg.ModelDir = t.TempDir()
	app.cfg.UploadDir = t.TempDir()
	app.cfg.IndexHTML = filepath.Join(t.TempDir(), "missing.html")

	s := &servedApp{app: app, addr: make(chan string, 1), done: make(chan error, 1)}
	app.listenFn = func(string) (net.Listener, error) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err == nil {
			s.addr <- ln.Addr().String()
		}
		return ln, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go func() { s.done <- app.runServe(ctx) }()
	t.Cleanup(cancel)
	return s
}

func healthStatus(t *testing.T, base string) string {
	t.Helper()

	resp, err := http.Get(base + "/health")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var body asr.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Status
}

func TestServeReportsLoadingThenTranscribes(t *testing.T) {
	t.Parallel()

	modelPath := filepath.Join(t.TempDir(), "ggml-test.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o600))

	release := make(chan struct{})
	engine := &stubEngine{out: whisper.Transcription{Text: " hi there "}}

	app := newAppState()
	app.cfg.Model = modelPath
	app.newEngine = func(whisper.Options) (whisper.Engine, error) {
		<-release
		return engine, nil
	}

	served := startServe(t, app)
	base := "http://" + <-served.addr

	require.Eventually(t, func() bool { return healthStatus(t, base) == "loading" }, 2*time.Second, 10*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return healthStatus(t, base) == "ready" }, 2*time.Second, 10*time.Millisecond)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "clip.webm")
	require.NoError(t, err)
	_, err = part.Write([]byte("webm bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(base+"/transcribe", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var result asr.Result
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "hi there", result.Text)
	require.NotNil(t, result.Timestamps)

	paths := engine.paths()
	require.Len(t, paths, 1)
	require.Equal(t, ".webm", filepath.Ext(paths[0]))
	_, statErr := os.Stat(paths[0])
	require.True(t, errors.Is(statErr, os.ErrNotExist))

	served.stop()
	select {
	case err := <-served.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	require.True(t, engine.closed.Load())
}

func TestServeExitsWhenModelFailsToLoad(t *testing.T) {
	t.Parallel()

	app := newAppState()
	app.cfg.Model = filepath.Join(t.TempDir(), "missing", "ggml-none.bin")
	app.newEngine = func(whisper.Options) (whisper.Engine, error) {
		return nil, errors.New("engine must not be built without a model")
	}

	served := startServe(t, app)
	<-served.addr

	select {
	case err := <-served.done:
		require.ErrorContains(t, err, "startup failed")
		require.ErrorContains(t, err, "custom model path does not exist")
	case <-time.After(5 * time.Second):
		t.Fatal("serve kept running after a failed model load")
	}
}
