package whisper

import (
	"encoding/json"
	"fmt"
	"strings"
)

// cliOutput mirrors the parts of whisper-cli's -oj document we read.
type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets *struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseCLIOutput converts whisper-cli JSON output into a Transcription.
// Offsets are reported in milliseconds.
func ParseCLIOutput(content []byte) (Transcription, error) {
	var out cliOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return Transcription{}, fmt.Errorf("decode whisper output: %w", err)
	}

	result := Transcription{Language: out.Result.Language}

	var text strings.Builder
	for _, segment := range out.Transcription {
		text.WriteString(segment.Text)

		chunk := Chunk{Text: segment.Text}
		if segment.Offsets != nil {
			chunk.Timestamp = &Span{
				Start: float64(segment.Offsets.From) / 1000,
				End:   float64(segment.Offsets.To) / 1000,
			}
		}
		result.Chunks = append(result.Chunks, chunk)
	}
	result.Text = text.String()

	return result, nil
}
