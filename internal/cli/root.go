package cli

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/fmueller/voxserve/internal/asr"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/download"
	"github.com/fmueller/voxserve/internal/logging"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/telemetry"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

// flagValues mirrors config.Config for command line overrides. A flag only
// wins over the config file and environment when it was set explicitly.
type flagValues struct {
	host         string
	port         int
	model        string
	modelDir     string
	engine       string
	language     string
	workers      int
	threads      int
	autoDownload bool
	uploadDir    string
	indexHTML    string
	silenceGate  bool
	silenceDBFS  float64
	logLevel     string
}

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool
	flags      flagValues

	cfg    config.Config
	logger *zap.Logger

	lookupEnv    func(string) (string, bool)
	newEngine    func(opts whisper.Options) (whisper.Engine, error)
	downloadFn   func(ctx context.Context, opts download.Options) error
	listenFn     func(addr string) (net.Listener, error)
	transcribeFn func(ctx context.Context, audioPath string) (asr.Result, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	defaults := config.Defaults()
	app := &appState{
		flags: flagValues{
			host:         defaults.Host,
			port:         defaults.Port,
			model:        defaults.Model,
			engine:       defaults.Engine,
			language:     defaults.Language,
			workers:      defaults.Workers,
			autoDownload: defaults.AutoDownload,
			indexHTML:    defaults.IndexHTML,
			silenceDBFS:  defaults.SilenceThresholdDBFS,
			logLevel:     defaults.LogLevel,
		},
		cfg:       defaults,
		lookupEnv: os.LookupEnv,
		newEngine: whisper.NewEngine,
	}
	app.transcribeFn = app.transcribeFile
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voxserve",
		Short:         "Serve whisper speech recognition over HTTP",
		Long:          "voxserve runs a whisper model behind a small HTTP API. Without a subcommand it starts the server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.initialize(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindServeFlags(cmd, app)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// initialize loads the configuration, applies explicitly set flags and
// builds the logger.
func (a *appState) initialize(cmd *cobra.Command) error {
	cfg, err := config.Loader{Lookup: a.lookupEnv}.Load(a.configPath)
	if err != nil {
		return err
	}

	a.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Options{Verbose: a.verbose, JSON: cfg.LogJSON, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *appState) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("host") {
		cfg.Host = a.flags.host
	}
	if changed("port") {
		cfg.Port = a.flags.port
	}
	if changed("model") {
		cfg.Model = a.flags.model
	}
	if changed("model-dir") {
		cfg.ModelDir = a.flags.modelDir
	}
	if changed("engine") {
		cfg.Engine = a.flags.engine
	}
	if changed("language") {
		cfg.Language = a.flags.language
	}
	if changed("workers") {
		cfg.Workers = a.flags.workers
	}
	if changed("threads") {
		cfg.Threads = a.flags.threads
	}
	if changed("auto-download") {
		cfg.AutoDownload = a.flags.autoDownload
	}
	if changed("upload-dir") {
		cfg.UploadDir = a.flags.uploadDir
	}
	if changed("index-html") {
		cfg.IndexHTML = a.flags.indexHTML
	}
	if changed("silence-gate") {
		cfg.SilenceGate = a.flags.silenceGate
	}
	if changed("silence-threshold-dbfs") {
		cfg.SilenceThresholdDBFS = a.flags.silenceDBFS
	}
	if changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if changed("json") {
		cfg.LogJSON = a.jsonLogs
	}
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.configPath, "config", app.configPath, "Path to a YAML config file (default $"+config.PathEnv+")")
	cmd.Flags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.Flags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	cmd.Flags().StringVar(&app.flags.logLevel, "log-level", app.flags.logLevel, "Log level: debug|info|warn|error")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.flags.model, "model", app.flags.model, "Model name or model file path")
	cmd.Flags().StringVar(&app.flags.modelDir, "model-dir", app.flags.modelDir, "Directory where models are stored")
}

func bindEngineFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.flags.engine, "engine", app.flags.engine, "Inference engine: cli|native")
	cmd.Flags().StringVar(&app.flags.language, "language", app.flags.language, "Language code (en|de|auto|...) for transcription")
	cmd.Flags().IntVar(&app.flags.threads, "threads", app.flags.threads, "Inference threads per request; 0 uses the engine default")
	cmd.Flags().BoolVar(&app.flags.autoDownload, "auto-download", app.flags.autoDownload, "Automatically download missing models")
}

func bindSilenceFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.flags.silenceGate, "silence-gate", app.flags.silenceGate, "Detect near-silent WAV audio and skip transcription")
	cmd.Flags().Float64Var(&app.flags.silenceDBFS, "silence-threshold-dbfs", app.flags.silenceDBFS, "Silence gate threshold in dBFS")
}

func bindServeFlags(cmd *cobra.Command, app *appState) {
	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindEngineFlags(cmd, app)
	bindSilenceFlags(cmd, app)
	cmd.Flags().StringVar(&app.flags.host, "host", app.flags.host, "Address to bind")
	cmd.Flags().IntVar(&app.flags.port, "port", app.flags.port, "Port to listen on; overrides $PORT")
	cmd.Flags().IntVar(&app.flags.workers, "workers", app.flags.workers, "Concurrent inference workers; the native engine always uses one")
	cmd.Flags().StringVar(&app.flags.uploadDir, "upload-dir", app.flags.uploadDir, "Directory for temporary upload files")
	cmd.Flags().StringVar(&app.flags.indexHTML, "index-html", app.flags.indexHTML, "HTML page served at / when the file exists")
}

// newService wires the model source, engine factory and worker pool for
// cfg. The service still has to be loaded.
func (a *appState) newService(cfg config.Config, recorder *telemetry.Recorder) (*asr.Service, error) {
	uploadDir, err := platform.ResolveUploadDir(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if cfg.Engine == whisper.EngineNative && workers > 1 {
		a.log().Warn("native engine shares one model context; using a single worker", zap.Int("configured", workers))
		workers = 1
	}

	newEngine := a.newEngine
	if newEngine == nil {
		newEngine = whisper.NewEngine
	}

	source := asr.ModelSource{
		Ref:          cfg.Model,
		Dir:          cfg.ModelDir,
		AutoDownload: cfg.AutoDownload,
		NoProgress:   !a.progressEnabled(),
		Logger:       a.log().Named("model"),
		Download:     a.downloadFn,
	}

	return asr.NewService(asr.Options{
		Model:                whisper.ModelID(cfg.Model),
		Device:               config.Device,
		Language:             cfg.Language,
		Workers:              workers,
		UploadDir:            uploadDir,
		SilenceGate:          cfg.SilenceGate,
		SilenceThresholdDBFS: cfg.SilenceThresholdDBFS,
		Provision:            source.Ensure,
		NewEngine: func(model whisper.ResolvedModel) (whisper.Engine, error) {
			return newEngine(whisper.Options{
				Kind:      cfg.Engine,
				ModelPath: model.Path,
				Threads:   cfg.Threads,
				TempDir:   uploadDir,
				FFmpeg:    cfg.FFmpeg,
				Logger:    a.log().Named("whisper"),
			})
		},
		Recorder: recorder,
		Logger:   a.log().Named("asr"),
	}), nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
