package executor

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// bufferedAudio holds uploaded audio so it can be replayed per attempt.
type bufferedAudio struct {
	src  models.AudioInput
	data []byte
}

func bufferAudio(in models.AudioInput) (bufferedAudio, error) {
	if in.URL != "" {
		return bufferedAudio{src: in}, nil
	}
	if in.Reader == nil {
		return bufferedAudio{}, errors.New("audio input is required")
	}
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return bufferedAudio{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return bufferedAudio{}, errors.New("audio input is empty")
	}
	return bufferedAudio{src: in, data: data}, nil
}

func (b bufferedAudio) input() models.AudioInput {
	in := b.src
	if in.URL == "" {
		in.Reader = bytes.NewReader(b.data)
		in.Bytes = int64(len(b.data))
	}
	return in
}
