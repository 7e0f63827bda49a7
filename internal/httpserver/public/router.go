package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/executor"
)

// Register wires up the OpenAI-compatible public API routes.
func Register(app *fiber.App, container *app.Container) {
	group := app.Group("/v1", apiKeyAuth(container))
	handler := &openAIHandler{container: container, executor: executor.New(container)}
	group.Get("/models", handler.listModels)
	group.Post("/chat/completions", handler.chatCompletions)
	group.Post("/images/generations", handler.imageGenerations)
	group.Post("/images/edits", handler.imageEdits)
	group.Post("/videos/generations", handler.videoGenerations)
	group.Post("/audio/transcriptions", handler.audioTranscriptions)
	group.Post("/audio/speech", handler.audioSpeech)

	filesHandler := &filesHandler{container: container}
	group.Get("/files/:id/content", filesHandler.download)
}
