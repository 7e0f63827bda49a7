package providers

import (
	"context"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

type ChatCompletions interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

type ChatStreaming interface {
	ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error)
}

type ModelLister interface {
	Models(ctx context.Context) ([]models.Model, error)
}

// ImageGenerator serves text-to-image and image edit jobs.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req models.ImageRequest) (*models.ImageResponse, error)
	EditImage(ctx context.Context, req models.ImageEditRequest) (*models.ImageResponse, error)
}

type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req models.VideoRequest) (*models.VideoResponse, error)
}

type AudioTranscriber interface {
	Transcribe(ctx context.Context, req models.AudioTranscriptionRequest) (*models.AudioTranscriptionResponse, error)
}

type TextToSpeech interface {
	Synthesize(ctx context.Context, req models.AudioSpeechRequest) (*models.AudioSpeechResponse, error)
}
