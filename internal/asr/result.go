package asr

import (
	"math"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/whisper"
)

// BlankAudioToken is what whisper emits for audio without speech.
const BlankAudioToken = "[BLANK_AUDIO]"

// Segment is one time-aligned piece of the transcript, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the response body of a successful transcription.
type Result struct {
	Text           string    `json:"text"`
	Timestamps     []Segment `json:"timestamps"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// IsBlank reports whether the transcript carries no speech.
func (r Result) IsBlank() bool {
	return IsBlankTranscript(r.Text)
}

func IsBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}

	return strings.EqualFold(trimmed, BlankAudioToken)
}

// Shape converts engine output into a Result. Chunks without a span start
// and end at zero; blank-audio chunks are dropped. Timestamps are rounded
// to hundredths and elapsed time to milliseconds.
func Shape(out whisper.Transcription, elapsed time.Duration) Result {
	result := Result{
		Text:           normalizeText(out.Text),
		Timestamps:     make([]Segment, 0, len(out.Chunks)),
		ElapsedSeconds: round(max(elapsed, 0).Seconds(), 3),
	}

	for _, chunk := range out.Chunks {
		text := strings.TrimSpace(chunk.Text)
		if strings.EqualFold(text, BlankAudioToken) {
			continue
		}

		segment := Segment{Text: text}
		if chunk.Timestamp != nil {
			segment.Start = round(chunk.Timestamp.Start, 2)
			segment.End = round(chunk.Timestamp.End, 2)
		}
		result.Timestamps = append(result.Timestamps, segment)
	}

	return result
}

func emptyResult(elapsed time.Duration) Result {
	return Shape(whisper.Transcription{}, elapsed)
}

func normalizeText(text string) string {
	if IsBlankTranscript(text) {
		return ""
	}
	return strings.TrimSpace(text)
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
