package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fmueller/voxserve/internal/asr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var textOnly bool

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Long:  "Transcribe an audio file with the same model and response shape as POST /transcribe.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audioPath := filepath.Clean(args[0])
			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("audio file not found: %w", err)
			}

			transcribeFn := app.transcribeFn
			if transcribeFn == nil {
				transcribeFn = app.transcribeFile
			}

			result, err := transcribeFn(cmd.Context(), audioPath)
			if err != nil {
				return err
			}

			if result.IsBlank() {
				app.log().Warn(noSpeechHint(audioPath))
			}
			return writeResult(cmd.OutOrStdout(), result, textOnly)
		},
	}

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindEngineFlags(cmd, app)
	bindSilenceFlags(cmd, app)
	cmd.Flags().BoolVar(&textOnly, "text", false, "Print only the transcript text instead of JSON")
	return cmd
}

// transcribeFile loads the model, transcribes audioPath once and releases
// the model again.
func (a *appState) transcribeFile(ctx context.Context, audioPath string) (asr.Result, error) {
	svc, err := a.newService(a.cfg, nil)
	if err != nil {
		return asr.Result{}, err
	}
	defer svc.Close()

	if err := svc.Load(ctx); err != nil {
		return asr.Result{}, err
	}

	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("model", a.cfg.Model), zap.String("language", a.cfg.Language))
	var indicator *spinner
	if a.progressEnabled() {
		indicator = newSpinner(os.Stderr, "Transcribing")
	}
	started := time.Now()

	result, err := svc.TranscribeFile(ctx, audioPath)
	indicator.Stop()
	if err != nil {
		a.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return asr.Result{}, err
	}
	a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)), zap.Float64("inference_seconds", result.ElapsedSeconds))

	return result, nil
}

func writeResult(w io.Writer, result asr.Result, textOnly bool) error {
	if textOnly {
		_, err := fmt.Fprintln(w, result.Text)
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
