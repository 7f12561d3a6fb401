package whisper

import "context"

type TranscriptionRequest struct {
	AudioPath string
	ModelPath string
	Language  string
}

// Transcription is the raw engine output. Chunk text keeps whatever
// whitespace the engine produced.
type Transcription struct {
	Text     string
	Language string
	Chunks   []Chunk
}

type Chunk struct {
	Text string
	// Timestamp is nil when the engine reported no timing for the chunk.
	Timestamp *Span
}

// Span is a time range in seconds from the start of the audio.
type Span struct {
	Start float64
	End   float64
}

type Engine interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (Transcription, error)
	Name() string
	Close() error
}
