package models

import "io"

// AudioInput wraps the uploaded audio payload.
type AudioInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Bytes       int64
	// URL points at remotely hosted audio; Reader is nil when set.
	URL string
}

// AudioTranscriptionRequest captures transcription parameters.
type AudioTranscriptionRequest struct {
	Model        string
	Input        AudioInput
	Prompt       string
	Temperature  *float32
	Language     string
	ExtraOptions map[string]any
	Headers      map[string]string
}

// TranscriptionSegment is a timed slice of a transcript.
type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// AudioTranscriptionResponse is a normalized transcription payload.
type AudioTranscriptionResponse struct {
	Text     string
	Language string
	Duration float64
	Segments []TranscriptionSegment
	Warnings []Warning
	Metadata map[string]any
}

// AudioSpeechRequest drives text-to-speech generation.
type AudioSpeechRequest struct {
	Model        string
	Input        string
	Voice        string
	Format       string
	Speed        *float64
	ExtraOptions map[string]any
	Headers      map[string]string
}

// AudioSpeechResponse returns generated audio bytes.
type AudioSpeechResponse struct {
	Audio       []byte
	ContentType string
	Warnings    []Warning
	Metadata    map[string]any
}
