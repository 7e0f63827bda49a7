package runpod

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractResultBareAndNestedURLMatch(t *testing.T) {
	keys := defaultResultKeys[ModalityVideo]

	bare, err := ExtractResult(json.RawMessage(`"https://cdn/x.mp4"`), keys)
	require.NoError(t, err)
	nested, err := ExtractResult(json.RawMessage(`{"video_url":"https://cdn/x.mp4"}`), keys)
	require.NoError(t, err)

	require.Equal(t, bare, nested)
	require.Equal(t, LocatorURL, bare.Locator)
	require.Equal(t, "https://cdn/x.mp4", bare.URL)
	require.Equal(t, "video/mp4", bare.MediaType)
}

func TestExtractResultKeyPriority(t *testing.T) {
	output := json.RawMessage(`{"url":"https://cdn/second.png","image_url":"https://cdn/first.png"}`)
	res, err := ExtractResult(output, defaultResultKeys[ModalityImage])
	require.NoError(t, err)
	require.Equal(t, "https://cdn/first.png", res.URL)
}

func TestExtractResultArrayTakesFirst(t *testing.T) {
	output := json.RawMessage(`{"images":["https://cdn/a.png","https://cdn/b.png"]}`)
	res, err := ExtractResult(output, defaultResultKeys[ModalityImage])
	require.NoError(t, err)
	require.Equal(t, "https://cdn/a.png", res.URL)

	output = json.RawMessage(`[{"image_url":"https://cdn/c.webp"}]`)
	res, err = ExtractResult(output, defaultResultKeys[ModalityImage])
	require.NoError(t, err)
	require.Equal(t, "https://cdn/c.webp", res.URL)
}

func TestExtractResultInlineData(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 40)...)
	encoded := base64.StdEncoding.EncodeToString(png)

	res, err := ExtractResult(json.RawMessage(`{"image":"data:image/png;base64,`+encoded+`"}`), defaultResultKeys[ModalityImage])
	require.NoError(t, err)
	require.Equal(t, LocatorInline, res.Locator)
	require.Equal(t, png, res.Data)
	require.Equal(t, "image/png", res.MediaType)

	res, err = ExtractResult(json.RawMessage(`{"image_base64":"`+encoded+`"}`), defaultResultKeys[ModalityImage])
	require.NoError(t, err)
	require.Equal(t, LocatorInline, res.Locator)
	require.Equal(t, png, res.Data)
	require.Equal(t, "image/png", res.MediaType)
}

func TestExtractResultMalformed(t *testing.T) {
	output := json.RawMessage(`{"status":"ok","seed":42}`)
	_, err := ExtractResult(output, defaultResultKeys[ModalityImage])
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformedOutput))

	var rpErr *Error
	require.True(t, errors.As(err, &rpErr))
	require.Equal(t, `{"status":"ok","seed":42}`, rpErr.Raw)
	require.True(t, strings.Contains(rpErr.Error(), `"seed":42`))

	_, err = ExtractResult(nil, defaultResultKeys[ModalityImage])
	require.True(t, errors.Is(err, ErrMalformedOutput))

	// short bare strings are neither urls nor media
	_, err = ExtractResult(json.RawMessage(`"done"`), defaultResultKeys[ModalityImage])
	require.True(t, errors.Is(err, ErrMalformedOutput))
}

func TestExtractTranscript(t *testing.T) {
	output := json.RawMessage(`{
		"transcription": " hello world ",
		"detected_language": "en",
		"segments": [{"start":0,"end":1.2,"text":"hello"},{"start":1.2,"end":2.5,"text":"world"}]
	}`)
	tr, err := ExtractTranscript(output)
	require.NoError(t, err)
	require.Equal(t, "hello world", tr.Text)
	require.Equal(t, "en", tr.Language)
	require.Equal(t, 2.5, tr.Duration)
	require.Len(t, tr.Segments, 2)

	tr, err = ExtractTranscript(json.RawMessage(`{"segments":[{"start":0,"end":1,"text":" one "},{"start":1,"end":2,"text":"two"}]}`))
	require.NoError(t, err)
	require.Equal(t, "one two", tr.Text)

	tr, err = ExtractTranscript(json.RawMessage(`"plain text output"`))
	require.NoError(t, err)
	require.Equal(t, "plain text output", tr.Text)

	_, err = ExtractTranscript(json.RawMessage(`{"foo":"bar"}`))
	require.True(t, errors.Is(err, ErrMalformedOutput))
}
