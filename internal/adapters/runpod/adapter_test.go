package runpod

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
	"github.com/ncecere/open_media_gateway/backend/internal/testutil"
)

func newTestAdapter(t *testing.T, srv *httptest.Server, endpoint, model string) *Adapter {
	t.Helper()
	adapter, err := New(AdapterOptions{
		APIKey:     "rp-key",
		Endpoint:   srv.URL + endpoint,
		Model:      model,
		PollPolicy: fastPolicy(5),
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return adapter
}

func completedWith(output string) string {
	return `{"id":"job-1","status":"COMPLETED","delayTime":30,"executionTime":2100,"output":` + output + `}`
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(AdapterOptions{})
	require.Error(t, err)

	_, err = New(AdapterOptions{Endpoint: "https://api.runpod.ai/v2/ep", Family: "dall-e"})
	require.Error(t, err)

	adapter, err := New(AdapterOptions{Endpoint: "https://api.runpod.ai/v2/ep", Family: "seedream-4", Model: "custom-build"})
	require.NoError(t, err)
	require.Equal(t, FamilySeedream4, adapter.FamilyFor(ModalityImage, ""))
	require.Equal(t, FamilyVideo, adapter.FamilyFor(ModalityVideo, ""))
}

func TestGenerateImageCountDegradesToOneJob(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"image_url":"` + srv.URL + `/cdn/out.png"}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "qwen-image")

	resp, err := adapter.GenerateImage(context.Background(), models.ImageRequest{
		Prompt: "a lighthouse",
		N:      3,
	})
	require.NoError(t, err)

	submits, _ := fake.counts()
	require.Equal(t, 1, submits)
	require.Len(t, resp.Data, 1)
	require.Equal(t, srv.URL+"/cdn/out.png", resp.Data[0].URL)
	require.Equal(t, "qwen-image", resp.Model)
	require.NotEmpty(t, resp.Warnings)
	require.Equal(t, "n > 1", resp.Warnings[0].Feature)
	require.Equal(t, models.WarningUnsupportedSetting, resp.Warnings[0].Type)

	require.Equal(t, "job-1", resp.Metadata["job_id"])
	require.Equal(t, int64(30), resp.Metadata["delay_time_ms"])
	require.Equal(t, int64(2100), resp.Metadata["execution_time_ms"])
	require.Equal(t, string(FamilyQwenImage), resp.Metadata["family"])
	require.False(t, resp.Created.IsZero())
}

func TestGenerateImageFailureIsRephrased(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = `{"id":"job-1","status":"FAILED","error":"GPU out of memory"}`
	adapter := newTestAdapter(t, srv, "/v2/ep", "sdxl")

	_, err := adapter.GenerateImage(context.Background(), models.ImageRequest{Prompt: "a lighthouse"})
	require.Error(t, err)
	require.Equal(t, "Image generation failed: GPU out of memory", err.Error())
	require.True(t, errors.Is(err, ErrJobFailed))
	require.Equal(t, KindJobFailed, KindOf(err))
}

func TestGenerateVideoFailureIsRephrased(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = `{"id":"job-1","status":"FAILED","error":"GPU out of memory"}`
	adapter := newTestAdapter(t, srv, "/v2/ep", "wan-2.2-t2v")

	_, err := adapter.GenerateVideo(context.Background(), models.VideoRequest{Prompt: "waves"})
	require.Equal(t, "Video generation failed: GPU out of memory", err.Error())
}

func TestGenerateTimeoutIsRephrased(t *testing.T) {
	_, srv := newFakeRunPod(t)
	adapter := newTestAdapter(t, srv, "/v2/ep", "sdxl")

	_, err := adapter.GenerateImage(context.Background(), models.ImageRequest{Prompt: "a lighthouse"})
	require.True(t, errors.Is(err, ErrTimeout))
	require.True(t, strings.HasPrefix(err.Error(), "Image generation failed: runpod: job job-1 did not finish after 5 attempts"))
}

func TestInvalidAspectRatioNeverReachesNetwork(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	adapter := newTestAdapter(t, srv, "/v2/ep", "qwen-image")

	for _, ratio := range []string{"5:4", "2:1", "banana"} {
		_, err := adapter.GenerateImage(context.Background(), models.ImageRequest{Prompt: "p", AspectRatio: ratio})
		require.True(t, errors.Is(err, ErrInvalidArgument), ratio)
	}
	submits, polls := fake.counts()
	require.Zero(t, submits)
	require.Zero(t, polls)
}

func TestEditImageWarnsAboutMask(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"image":"` + srv.URL + `/cdn/edit.png"}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "flux-1-kontext-dev")

	resp, err := adapter.EditImage(context.Background(), models.ImageEditRequest{
		Prompt: "make it night",
		Images: []models.ImageInput{{Data: []byte("abc"), ContentType: "image/png"}},
		Mask:   &models.ImageInput{Data: []byte("mask")},
		ExtraOptions: map[string]any{
			"image": "https://elsewhere.example/ignored.png",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "mask", resp.Warnings[0].Feature)
	require.Equal(t, "data:image/png;base64,YWJj", fake.inputs[0]["image"])
}

func TestEditImageRequiresImage(t *testing.T) {
	_, srv := newFakeRunPod(t)
	adapter := newTestAdapter(t, srv, "/v2/ep", "flux-1-kontext-dev")
	_, err := adapter.EditImage(context.Background(), models.ImageEditRequest{Prompt: "p"})
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestGenerateImageBase64Format(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"result":"` + srv.URL + `/cdn/out.png"}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "sdxl")

	resp, err := adapter.GenerateImage(context.Background(), models.ImageRequest{Prompt: "p", ResponseFormat: "b64_json"})
	require.NoError(t, err)
	require.Empty(t, resp.Data[0].URL)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("media:/cdn/out.png")), resp.Data[0].B64JSON)
	require.Equal(t, "image/png", resp.Data[0].ContentType)
}

func TestGenerateImageMalformedOutput(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"nsfw":false}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "sdxl")

	_, err := adapter.GenerateImage(context.Background(), models.ImageRequest{Prompt: "p"})
	require.True(t, errors.Is(err, ErrMalformedOutput))
	var rpErr *Error
	require.True(t, errors.As(err, &rpErr))
	require.Equal(t, "job-1", rpErr.JobID)
}

func TestGenerateVideoImageToVideo(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"output":{"video_url":"https://cdn.example/clip.mp4"}}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "wan-2.2-i2v-720")

	duration := 5.0
	resp, err := adapter.GenerateVideo(context.Background(), models.VideoRequest{
		Prompt:          "the statue turns its head",
		AspectRatio:     "9:16",
		DurationSeconds: &duration,
		Images:          []models.ImageInput{{URL: "https://cdn.example/statue.png"}},
		ExtraOptions:    map[string]any{"maxPollAttempts": 4},
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/clip.mp4", resp.Data[0].URL)
	require.Equal(t, "video/mp4", resp.Data[0].ContentType)

	input := fake.inputs[0]
	require.Equal(t, "https://cdn.example/statue.png", input["image"])
	require.Equal(t, "720*1280", input["size"])
	require.EqualValues(t, 5, input["duration"])
	require.NotContains(t, input, "maxPollAttempts")
}

func TestGenerateVideoLoraUsesVariantEndpoint(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.submitBody = completedWith(`"https://cdn.example/clip.mp4"`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "wan-2.2-t2v")

	_, err := adapter.GenerateVideo(context.Background(), models.VideoRequest{
		Prompt:       "a paper boat",
		ExtraOptions: map[string]any{"loras": []any{"https://hf.example/boat.safetensors"}},
	})
	require.NoError(t, err)
	require.Equal(t, "/v2/ep-lora/run", fake.paths[0])
}

func TestSynthesizeDownloadsAudio(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"audio_url":"` + srv.URL + `/cdn/speech.wav"}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "kokoro")

	speed := 1.25
	resp, err := adapter.Synthesize(context.Background(), models.AudioSpeechRequest{
		Input:  "hello there",
		Voice:  "af_bella",
		Format: "wav",
		Speed:  &speed,
	})
	require.NoError(t, err)
	require.Equal(t, "media:/cdn/speech.wav", string(resp.Audio))
	require.Equal(t, "audio/wav", resp.ContentType)

	input := fake.inputs[0]
	require.Equal(t, "hello there", input["text"])
	require.Equal(t, "af_bella", input["voice"])
	require.Equal(t, 1.25, input["speed"])
}

func TestSynthesizeRequiresText(t *testing.T) {
	_, srv := newFakeRunPod(t)
	adapter := newTestAdapter(t, srv, "/v2/ep", "kokoro")
	_, err := adapter.Synthesize(context.Background(), models.AudioSpeechRequest{})
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestTranscribe(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"transcription":"hello world","detected_language":"en","segments":[{"start":0,"end":1.5,"text":"hello world"}]}`)
	adapter := newTestAdapter(t, srv, "/v2/ep", "faster-whisper")

	resp, err := adapter.Transcribe(context.Background(), models.AudioTranscriptionRequest{
		Input:    models.AudioInput{Reader: strings.NewReader("RIFF"), Filename: "clip.wav"},
		Language: "en",
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", resp.Text)
	require.Equal(t, "en", resp.Language)
	require.Equal(t, 1.5, resp.Duration)
	require.Equal(t, "job-1", resp.Metadata["job_id"])
	require.Equal(t, "UklGRg==", fake.inputs[0]["audio_base64"])
}

func TestTranscribeFailureIsRephrased(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = `{"id":"job-1","status":"FAILED","error":{"message":"unsupported codec"}}`
	adapter := newTestAdapter(t, srv, "/v2/ep", "faster-whisper")

	_, err := adapter.Transcribe(context.Background(), models.AudioTranscriptionRequest{
		Input: models.AudioInput{URL: "https://cdn.example/a.ogg"},
	})
	require.Equal(t, "Transcription generation failed: unsupported codec", err.Error())
}

func TestHealthCheck(t *testing.T) {
	_, srv := newFakeRunPod(t)
	adapter := newTestAdapter(t, srv, "/v2/ep/runsync", "sdxl")
	require.NoError(t, adapter.HealthCheck(context.Background()))
}

func TestDefaultOptionsSitUnderCallerOptions(t *testing.T) {
	fake, srv := newFakeRunPod(t)
	fake.final = completedWith(`{"image_url":"https://cdn.example/out.png"}`)
	adapter, err := New(AdapterOptions{
		Endpoint:       srv.URL + "/v2/ep",
		Model:          "sdxl",
		PollPolicy:     fastPolicy(5),
		HTTPClient:     srv.Client(),
		DefaultOptions: map[string]any{"num_inference_steps": 20, "scheduler": "ddim"},
	})
	require.NoError(t, err)

	_, err = adapter.GenerateImage(context.Background(), models.ImageRequest{
		Prompt:       "p",
		ExtraOptions: map[string]any{"scheduler": "euler"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 20, fake.inputs[0]["num_inference_steps"])
	require.Equal(t, "euler", fake.inputs[0]["scheduler"])
}

func TestRecordedRunSyncImage(t *testing.T) {
	rec := testutil.NewRecorder(t, "runpod_runsync_image")
	adapter, err := New(AdapterOptions{
		APIKey:     "rp-key",
		Endpoint:   "https://api.runpod.ai/v2/qwen-image-t2i/runsync",
		Model:      "qwen-image",
		HTTPClient: testutil.HTTPClient(rec),
	})
	require.NoError(t, err)

	resp, err := adapter.GenerateImage(context.Background(), models.ImageRequest{
		Prompt:         "a lighthouse at dusk",
		AspectRatio:    "16:9",
		ResponseFormat: "b64_json",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-png-bytes")), resp.Data[0].B64JSON)
	require.Equal(t, "image/png", resp.Data[0].ContentType)
	require.Equal(t, "sync-5f0c1d2e-u1", resp.Metadata["job_id"])
	require.Equal(t, int64(10342), resp.Metadata["execution_time_ms"])
}
