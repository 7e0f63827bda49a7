package providers

import "strings"

// Public modality names used in catalog entries and route lookups.
const (
	ModalityChat          = "chat"
	ModalityImage         = "image"
	ModalityVideo         = "video"
	ModalitySpeech        = "speech"
	ModalityTranscription = "transcription"
)

var allModalities = []string{ModalityChat, ModalityImage, ModalityVideo, ModalitySpeech, ModalityTranscription}

var mediaModalities = []string{ModalityImage, ModalityVideo, ModalitySpeech, ModalityTranscription}

func supportsModality(modalities []string, target string) bool {
	for _, m := range modalities {
		if strings.EqualFold(m, target) {
			return true
		}
	}
	return false
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return make(map[string]string)
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
