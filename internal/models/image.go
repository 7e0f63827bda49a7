package models

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// ErrImageOperationUnsupported indicates that the provider does not support a
// requested image workflow (edits, variations, etc.).
var ErrImageOperationUnsupported = errors.New("image operation unsupported")

// ImageInput stores a binary image payload in-memory so the same data can be
// re-read if multiple providers are attempted (e.g., failover routing).
type ImageInput struct {
	Data        []byte
	Filename    string
	ContentType string
	// URL references a remote image instead of inline Data.
	URL string
}

// Reader returns a fresh ReadCloser for the stored image bytes.
func (in ImageInput) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(in.Data))
}

// Size exposes the number of bytes in the image payload.
func (in ImageInput) Size() int64 {
	return int64(len(in.Data))
}

// IsRemote reports whether the input points at a URL rather than inline bytes.
func (in ImageInput) IsRemote() bool {
	return in.URL != "" && len(in.Data) == 0
}

// ImageRequest captures parameters for generating images via provider adapters.
type ImageRequest struct {
	Model          string
	Prompt         string
	Size           string
	AspectRatio    string
	ResponseFormat string
	N              int
	Seed           *int64
	User           string
	References     []ImageInput
	ExtraOptions   map[string]any
	Headers        map[string]string
}

// ImageEditRequest captures the multipart-driven inputs for the
// `/v1/images/edits` endpoint.
type ImageEditRequest struct {
	Model          string
	Prompt         string
	Images         []ImageInput
	Mask           *ImageInput
	Size           string
	AspectRatio    string
	ResponseFormat string
	N              int
	Seed           *int64
	User           string
	ExtraOptions   map[string]any
	Headers        map[string]string
}

// ImageData represents a single generated image payload.
type ImageData struct {
	B64JSON     string
	URL         string
	ContentType string
	FileID      string
}

// ImageResponse wraps generated images along with creation metadata.
type ImageResponse struct {
	Created  time.Time
	Model    string
	Data     []ImageData
	Warnings []Warning
	Metadata map[string]any
}
