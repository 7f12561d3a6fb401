package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/server"
	"github.com/fmueller/voxserve/internal/telemetry"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP transcription server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	bindServeFlags(cmd, app)
	return cmd
}

// runServe starts listening right away and loads the model in the
// background, so /health reports "loading" until the model is ready. A
// failed load stops the server and is returned.
func (a *appState) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	recorder := telemetry.NewRecorder()

	a.log().Info("starting voxserve",
		zap.String("version", version.Resolve()),
		zap.Stringer("runtime", platform.CurrentRuntime()),
		zap.String("addr", cfg.Addr()),
		zap.String("engine", cfg.Engine),
		zap.String("model", cfg.Model),
		zap.Int("workers", cfg.Workers),
	)

	svc, err := a.newService(cfg, recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			a.log().Warn("failed to close model", zap.Error(err))
		}
	}()

	srv, err := server.New(svc, server.Options{
		Addr:            cfg.Addr(),
		MaxUploadBytes:  cfg.MaxUploadBytes,
		IndexHTML:       cfg.IndexHTML,
		Version:         version.Resolve(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          a.log().Named("http"),
	})
	if err != nil {
		return err
	}

	listen := a.listenFn
	if listen == nil {
		listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }
	}
	ln, err := listen(cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		if err := svc.Load(ctx); err != nil {
			a.log().Error("failed to load model", zap.Error(err))
			cancel(err)
		}
	}()

	serveErr := srv.Serve(ctx, ln)
	a.log().Info("transcription totals", recorder.Snapshot().Fields()...)

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("startup failed: %w", cause)
	}
	return serveErr
}
