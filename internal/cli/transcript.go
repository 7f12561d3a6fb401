package cli

import "path/filepath"

func noSpeechHint(audioPath string) string {
	return "No speech detected in " + filepath.Base(audioPath) + ". Check the recording level and try again."
}
