package runpod

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// Modality selects which facade operation and family table a request uses.
type Modality string

const (
	ModalityImage         Modality = "image"
	ModalityVideo         Modality = "video"
	ModalitySpeech        Modality = "speech"
	ModalityTranscription Modality = "transcription"
)

// Label is the user-facing name used in re-phrased failures.
func (m Modality) Label() string {
	switch m {
	case ModalityImage:
		return "Image"
	case ModalityVideo:
		return "Video"
	case ModalitySpeech:
		return "Speech"
	case ModalityTranscription:
		return "Transcription"
	default:
		return "Media"
	}
}

// MediaReference is caller-supplied input media, either remote or inline.
type MediaReference struct {
	URL       string
	Data      []byte
	MediaType string
}

// Value renders the reference the way RunPod workers accept it: the URL itself
// or a base64 data URL.
func (r MediaReference) Value() string {
	if r.URL != "" {
		return r.URL
	}
	mediaType := strings.TrimSpace(r.MediaType)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

func (r MediaReference) empty() bool {
	return r.URL == "" && len(r.Data) == 0
}

func referenceFromImage(in models.ImageInput) MediaReference {
	return MediaReference{URL: in.URL, Data: in.Data, MediaType: in.ContentType}
}

// GenerationRequest is the abstract call shared by every modality.
type GenerationRequest struct {
	ModelID         string
	Modality        Modality
	Prompt          string
	Count           int
	Size            string
	AspectRatio     string
	Resolution      string
	DurationSeconds *float64
	FPS             *int
	Seed            *int64
	ReferenceMedia  []MediaReference
	ExtraOptions    map[string]any
	Headers         map[string]string

	// Speech.
	Voice  string
	Speed  *float64
	Format string

	// Transcription.
	Audio    *MediaReference
	Language string
}

// MediaResult is what the facade returns for every modality.
type MediaResult struct {
	Outputs   []Result
	Warnings  []models.Warning
	Metadata  map[string]any
	Timestamp time.Time
	ModelID   string
	Family    Family
	Job       Job
}
