package runpod

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// Locator says how a Result carries its media.
type Locator string

const (
	LocatorURL    Locator = "url"
	LocatorInline Locator = "inline"
)

// Result is the canonical media reference pulled out of a job output.
type Result struct {
	Locator   Locator
	URL       string
	Data      []byte
	MediaType string
}

// Shorter bare strings are never treated as base64 media.
const minInlineBase64 = 32

var defaultResultKeys = map[Modality][]string{
	ModalityImage:  {"image_url", "image", "images", "result", "url", "output", "image_base64"},
	ModalityVideo:  {"video_url", "video", "videos", "result", "url", "output", "video_base64"},
	ModalitySpeech: {"audio_url", "audio", "result", "url", "output", "audio_base64"},
}

// ExtractResult finds the media reference inside a job output. Known keys are
// tried in order; a bare string output is the reference itself.
func ExtractResult(output json.RawMessage, keys []string) (Result, error) {
	var doc any
	if len(output) > 0 {
		if err := json.Unmarshal(output, &doc); err != nil {
			return Result{}, malformedOutput(output)
		}
	}
	if res, ok := resultFromValue(doc, keys, 0); ok {
		return res, nil
	}
	return Result{}, malformedOutput(output)
}

func resultFromValue(v any, keys []string, depth int) (Result, bool) {
	if depth > 3 {
		return Result{}, false
	}
	switch val := v.(type) {
	case string:
		return resultFromString(val)
	case []any:
		for _, item := range val {
			if res, ok := resultFromValue(item, keys, depth+1); ok {
				return res, true
			}
		}
	case map[string]any:
		for _, key := range keys {
			inner, ok := val[key]
			if !ok || inner == nil {
				continue
			}
			if res, ok := resultFromValue(inner, keys, depth+1); ok {
				return res, true
			}
		}
	}
	return Result{}, false
}

func resultFromString(raw string) (Result, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Result{}, false
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return Result{Locator: LocatorURL, URL: s, MediaType: mediaTypeFromURL(s)}, true
	case strings.HasPrefix(lower, "data:"):
		return resultFromDataURL(s)
	}
	if len(s) < minInlineBase64 || strings.ContainsAny(s, " \n\t") {
		return Result{}, false
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return Result{}, false
		}
	}
	if len(data) == 0 {
		return Result{}, false
	}
	return Result{Locator: LocatorInline, Data: data, MediaType: http.DetectContentType(data)}, true
}

func resultFromDataURL(s string) (Result, bool) {
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return Result{}, false
	}
	mediaType := header
	isBase64 := false
	if idx := strings.Index(header, ";"); idx >= 0 {
		mediaType = header[:idx]
		isBase64 = strings.Contains(header[idx:], "base64")
	}
	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Result{}, false
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return Result{}, false
		}
		data = []byte(unescaped)
	}
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return Result{Locator: LocatorInline, Data: data, MediaType: mediaType}, true
}

var mediaExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".aac":  "audio/aac",
}

func mediaTypeFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return ""
	}
	if mt, ok := mediaExtensions[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = mt[:idx]
	}
	return mt
}

func malformedOutput(output json.RawMessage) *Error {
	raw := strings.TrimSpace(string(output))
	preview := raw
	if len(preview) > 512 {
		preview = preview[:512] + "..."
	}
	if preview == "" {
		preview = "<empty>"
	}
	return &Error{
		Kind:    KindMalformedOutput,
		Message: fmt.Sprintf("runpod: no result found in job output: %s", preview),
		Raw:     raw,
	}
}

// Transcript is the normalized output of a transcription job.
type Transcript struct {
	Text     string
	Language string
	Duration float64
	Segments []models.TranscriptionSegment
}

type transcriptOutput struct {
	Transcription    string                        `json:"transcription"`
	Text             string                        `json:"text"`
	Translation      string                        `json:"translation"`
	DetectedLanguage string                        `json:"detected_language"`
	Language         string                        `json:"language"`
	Duration         float64                       `json:"duration"`
	Segments         []models.TranscriptionSegment `json:"segments"`
}

// ExtractTranscript reads the text, language and segments of a transcription job.
func ExtractTranscript(output json.RawMessage) (Transcript, error) {
	var bare string
	if err := json.Unmarshal(output, &bare); err == nil {
		if strings.TrimSpace(bare) == "" {
			return Transcript{}, malformedOutput(output)
		}
		return Transcript{Text: strings.TrimSpace(bare)}, nil
	}
	var decoded transcriptOutput
	if err := json.Unmarshal(output, &decoded); err != nil {
		return Transcript{}, malformedOutput(output)
	}
	text := pickFirst(decoded.Transcription, decoded.Text, decoded.Translation)
	if text == "" && len(decoded.Segments) > 0 {
		parts := make([]string, 0, len(decoded.Segments))
		for _, seg := range decoded.Segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}
	if text == "" {
		return Transcript{}, malformedOutput(output)
	}
	duration := decoded.Duration
	if duration == 0 && len(decoded.Segments) > 0 {
		duration = decoded.Segments[len(decoded.Segments)-1].End
	}
	return Transcript{
		Text:     strings.TrimSpace(text),
		Language: pickFirst(decoded.DetectedLanguage, decoded.Language),
		Duration: duration,
		Segments: decoded.Segments,
	}, nil
}

func pickFirst(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
