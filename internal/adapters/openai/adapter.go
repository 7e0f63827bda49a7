package openai

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/pagination"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// Options configure the OpenAI-protocol chat delegate.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	// Provider labels models returned by Models.
	Provider   string
	HTTPClient *http.Client
	Extra      []option.RequestOption
}

// Adapter forwards chat completions to an OpenAI-compatible API, including
// RunPod's /openai/v1 worker route.
type Adapter struct {
	client   *openai.Client
	provider string
}

// New creates a chat delegate using the provided API key and optional base URL/organization.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	if strings.TrimSpace(opts.Organization) != "" {
		requestOpts = append(requestOpts, option.WithOrganization(strings.TrimSpace(opts.Organization)))
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	provider := strings.TrimSpace(opts.Provider)
	if provider == "" {
		provider = "openai"
	}
	client := openai.NewClient(requestOpts...)
	return &Adapter{client: &client, provider: provider}, nil
}

// Chat performs a non-streaming chat completion request.
func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	resp, err := a.client.Chat.Completions.New(ctx, buildChatParams(req), extraBody(req.ExtraOptions)...)
	if err != nil {
		return models.ChatResponse{}, err
	}
	return convertChatResponse(*resp), nil
}

// ChatStream performs a streaming chat completion request. The returned
// closer stops the relay and may be called more than once.
func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	params := buildChatParams(req)
	params.StreamOptions.IncludeUsage = param.NewOpt(true)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params, extraBody(req.ExtraOptions)...)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, nil, err
	}
	chunks, closer := relay(ctx, stream)
	return chunks, closer, nil
}

// relay copies converted chunks onto a channel until the stream ends or ctx
// is done, then closes both.
func relay(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) (<-chan models.ChatChunk, func() error) {
	chunks := make(chan models.ChatChunk)
	var once sync.Once
	closeStream := func() {
		once.Do(func() { _ = stream.Close() })
	}

	go func() {
		defer close(chunks)
		defer closeStream()
		for stream.Next() {
			select {
			case <-ctx.Done():
				return
			case chunks <- convertChatChunk(stream.Current()):
			}
		}
	}()

	return chunks, func() error {
		closeStream()
		return nil
	}
}

// extraBody writes provider options into the request body in key order.
func extraBody(extra map[string]any) []option.RequestOption {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([]option.RequestOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, option.WithJSONSet(k, extra[k]))
	}
	return opts
}

// Models lists available models from the upstream API.
func (a *Adapter) Models(ctx context.Context) ([]models.Model, error) {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	return convertModelPage(page, a.provider), nil
}

// HealthCheck uses the Models API as a lightweight readiness check.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx)
	return err
}

func convertModelPage(page *pagination.Page[openai.Model], provider string) []models.Model {
	if page == nil {
		return nil
	}
	out := make([]models.Model, 0, len(page.Data))
	for _, item := range page.Data {
		out = append(out, models.Model{
			Alias:         item.ID,
			Provider:      provider,
			ProviderModel: item.ID,
			Modalities:    []string{"chat"},
		})
	}
	return out
}

func buildChatParams(req models.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			choice := openai.ChatCompletionMessageParamOfAssistant(msg.Content)
			messages = append(messages, choice)
		case "tool":
			fallthrough
		default:
			union := openai.UserMessage(msg.Content)
			if name := strings.TrimSpace(msg.Name); name != "" && union.OfUser != nil {
				union.OfUser.Name = param.NewOpt(name)
			}
			messages = append(messages, union)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(float64(*req.TopP))
	}
	if req.MaxTokens != nil {
		params.MaxTokens = param.NewOpt(int64(*req.MaxTokens))
	}
	if req.Seed != nil {
		params.Seed = param.NewOpt(*req.Seed)
	}
	if len(req.Stop) == 1 {
		params.Stop.OfString = param.NewOpt(req.Stop[0])
	} else if len(req.Stop) > 1 {
		params.Stop.OfStringArray = append(params.Stop.OfStringArray, req.Stop...)
	}
	return params
}

func convertChatResponse(resp openai.ChatCompletion) models.ChatResponse {
	choices := make([]models.ChatChoice, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		choices = append(choices, models.ChatChoice{
			Index:        int(choice.Index),
			Message:      models.ChatMessage{Role: string(choice.Message.Role), Content: choice.Message.Content},
			FinishReason: choice.FinishReason,
		})
	}
	return models.ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: time.Unix(resp.Created, 0),
		Choices: choices,
		Usage:   convertUsage(resp.Usage),
	}
}

func convertChatChunk(chunk openai.ChatCompletionChunk) models.ChatChunk {
	choices := make([]models.ChatChoice, 0, len(chunk.Choices))
	for _, choice := range chunk.Choices {
		choices = append(choices, models.ChatChoice{
			Index:        int(choice.Index),
			Message:      models.ChatMessage{Role: choice.Delta.Role, Content: choice.Delta.Content},
			FinishReason: choice.FinishReason,
		})
	}
	out := models.ChatChunk{
		ID:      chunk.ID,
		Model:   chunk.Model,
		Created: time.Unix(chunk.Created, 0),
		Choices: choices,
	}
	if usage := convertUsage(chunk.Usage); !usage.Empty() {
		out.Usage = &usage
	}
	return out
}

// convertUsage fills Total from its parts when the worker leaves it out.
func convertUsage(u openai.CompletionUsage) models.TokenUsage {
	usage := models.TokenUsage{
		Prompt:     int32(u.PromptTokens),
		Completion: int32(u.CompletionTokens),
		Total:      int32(u.TotalTokens),
	}
	if usage.Total == 0 {
		usage.Total = usage.Prompt + usage.Completion
	}
	return usage
}
