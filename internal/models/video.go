package models

import "time"

// VideoRequest drives text-to-video and image-to-video generation.
type VideoRequest struct {
	Model           string
	Prompt          string
	N               int
	Size            string
	AspectRatio     string
	Resolution      string
	DurationSeconds *float64
	FPS             *int
	Seed            *int64
	Images          []ImageInput
	ResponseFormat  string
	ExtraOptions    map[string]any
	Headers         map[string]string
}

// VideoData is one generated clip, either referenced by URL or carried inline.
type VideoData struct {
	URL         string
	Data        []byte
	ContentType string
	FileID      string
}

type VideoResponse struct {
	Created  time.Time
	Model    string
	Data     []VideoData
	Warnings []Warning
	Metadata map[string]any
}
