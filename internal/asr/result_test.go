package asr

import (
	"testing"
	"time"

	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/stretchr/testify/require"
)

func TestShapeDropsBlankAudioMarker(t *testing.T) {
	t.Parallel()

	result := Shape(whisper.Transcription{
		Text: " [BLANK_AUDIO] ",
		Chunks: []whisper.Chunk{
			{Text: " [BLANK_AUDIO]", Timestamp: &whisper.Span{Start: 0, End: 10}},
		},
	}, 1500*time.Millisecond)

	require.Equal(t, "", result.Text)
	require.NotNil(t, result.Timestamps)
	require.Empty(t, result.Timestamps)
	require.Equal(t, 1.5, result.ElapsedSeconds)
	require.True(t, result.IsBlank())
}

func TestShapeRoundsElapsedToMilliseconds(t *testing.T) {
	t.Parallel()

	result := Shape(whisper.Transcription{Text: "hi"}, 1234567*time.Microsecond)
	require.Equal(t, 1.235, result.ElapsedSeconds)

	result = Shape(whisper.Transcription{Text: "hi"}, -time.Second)
	require.Equal(t, 0.0, result.ElapsedSeconds)
}

func TestShapeKeepsEngineOrder(t *testing.T) {
	t.Parallel()

	result := Shape(whisper.Transcription{
		Text: "b a",
		Chunks: []whisper.Chunk{
			{Text: "b", Timestamp: &whisper.Span{Start: 3, End: 4}},
			{Text: "a", Timestamp: &whisper.Span{Start: 1, End: 2}},
		},
	}, 0)

	require.Equal(t, []Segment{{Start: 3, End: 4, Text: "b"}, {Start: 1, End: 2, Text: "a"}}, result.Timestamps)
}

func TestIsBlankTranscript(t *testing.T) {
	t.Parallel()

	require.True(t, IsBlankTranscript(""))
	require.True(t, IsBlankTranscript("   "))
	require.True(t, IsBlankTranscript("[blank_audio]"))
	require.False(t, IsBlankTranscript("hello"))
}
