package blob

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

func newLocalMedia(t *testing.T, ttl time.Duration) (*MediaStore, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := newLocalStore(config.FilesConfig{Local: config.FilesLocalConfig{Directory: dir}})
	require.NoError(t, err)
	return NewMediaStore(backend, ttl), dir
}

func TestMediaStoreSaveAndOpen(t *testing.T) {
	ctx := context.Background()
	media, err := New(ctx, config.FilesConfig{Local: config.FilesLocalConfig{Directory: t.TempDir()}, DefaultTTL: time.Hour})
	require.NoError(t, err)

	file, err := media.Save(ctx, []byte("fake-png-bytes"), Media{
		ContentType: "image/png",
		JobID:       "job-1",
		Model:       "qwen-image",
		Family:      "qwen-image",
		Modality:    "image",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(file.ID, "file-"))
	require.True(t, strings.HasSuffix(file.ID, ".png"))
	require.EqualValues(t, 14, file.Bytes)
	require.False(t, file.Encrypted)

	rc, info, err := media.Open(ctx, file.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "fake-png-bytes", string(data))
	require.Equal(t, "image/png", info.ContentType)
	require.Equal(t, "job-1", info.JobID)
	require.Equal(t, "qwen-image", info.Model)
	require.Equal(t, "qwen-image", info.Family)
	require.Equal(t, "image", info.Modality)
	require.True(t, file.ExpiresAt.Equal(info.ExpiresAt))
}

func TestMediaStoreExpiresFiles(t *testing.T) {
	ctx := context.Background()
	media, dir := newLocalMedia(t, time.Minute)

	file, err := media.Save(ctx, []byte("clip"), Media{ContentType: "video/mp4", JobID: "job-2", Model: "wan"})
	require.NoError(t, err)

	media.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = media.Open(ctx, file.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(filepath.Join(dir, "media", file.ID))
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "media", file.ID+sidecarSuffix))
	require.True(t, os.IsNotExist(statErr))
}

func TestMediaStoreSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	media, _ := newLocalMedia(t, time.Minute)

	stale, err := media.Save(ctx, []byte("old clip"), Media{ContentType: "video/mp4"})
	require.NoError(t, err)
	media.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	fresh, err := media.Save(ctx, []byte("new clip"), Media{ContentType: "video/mp4"})
	require.NoError(t, err)

	removed, err := media.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, _, err = media.Open(ctx, stale.ID)
	require.ErrorIs(t, err, ErrNotFound)
	rc, _, err := media.Open(ctx, fresh.ID)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	removed, err = media.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestMediaStoreRejectsForeignKeys(t *testing.T) {
	media, err := New(context.Background(), config.FilesConfig{Local: config.FilesLocalConfig{Directory: t.TempDir()}})
	require.NoError(t, err)

	for _, id := range []string{"../etc/passwd", "file-../../x", "media/file-1.png", "other"} {
		_, _, err := media.Open(context.Background(), id)
		require.ErrorIs(t, err, ErrNotFound, id)
	}
	_, _, err = media.Open(context.Background(), "file-missing.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func newEncryptedMedia(t *testing.T) (*MediaStore, string) {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	dir := t.TempDir()
	media, err := New(context.Background(), config.FilesConfig{
		Local:         config.FilesLocalConfig{Directory: dir},
		EncryptionKey: base64.StdEncoding.EncodeToString(key),
	})
	require.NoError(t, err)
	return media, dir
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	media, dir := newEncryptedMedia(t)

	file, err := media.Save(ctx, []byte("secret-audio"), Media{ContentType: "audio/mpeg"})
	require.NoError(t, err)
	require.True(t, file.Encrypted)

	raw, err := os.ReadFile(filepath.Join(dir, "media", file.ID))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-audio")

	rc, info, err := media.Open(ctx, file.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "secret-audio", string(data))
	require.EqualValues(t, len("secret-audio"), info.Bytes)
}

func TestEncryptedMediaBoundToFileID(t *testing.T) {
	ctx := context.Background()
	media, dir := newEncryptedMedia(t)

	first, err := media.Save(ctx, []byte("first render"), Media{ContentType: "image/png"})
	require.NoError(t, err)
	second, err := media.Save(ctx, []byte("second render"), Media{ContentType: "image/png"})
	require.NoError(t, err)

	swapped, err := os.ReadFile(filepath.Join(dir, "media", first.ID))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media", second.ID), swapped, 0o640))

	_, _, err = media.Open(ctx, second.ID)
	require.Error(t, err)
}

func TestSealerRejectsBadKeys(t *testing.T) {
	_, err := newSealer("not base64!")
	require.Error(t, err)
	_, err = newSealer(base64.StdEncoding.EncodeToString([]byte("short")))
	require.ErrorContains(t, err, "16, 24 or 32 bytes")

	s, err := newSealer("  ")
	require.NoError(t, err)
	require.Nil(t, s)
}
