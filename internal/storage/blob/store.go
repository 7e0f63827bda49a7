package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("blob not found")

const (
	mediaPrefix   = "media/"
	filePrefix    = "file-"
	metaExpiresAt = "expires-at"
	metaJobID     = "job-id"
	metaModel     = "model"
	metaFamily    = "family"
	metaModality  = "modality"
)

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Backend is raw object storage addressed by slash-separated keys.
type Backend interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

func newBackend(ctx context.Context, cfg config.FilesConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		awsCfg, err := loadS3Config(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return newS3Store(cfg, awsCfg)
	default:
		return newLocalStore(cfg)
	}
}

// Media describes a generated output being persisted.
type Media struct {
	ContentType string
	JobID       string
	Model       string
	Family      string
	Modality    string
}

// File describes generated media persisted for later download.
type File struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Bytes       int64     `json:"bytes"`
	JobID       string    `json:"job_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	Family      string    `json:"family,omitempty"`
	Modality    string    `json:"modality,omitempty"`
	Encrypted   bool      `json:"encrypted,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// MediaStore keeps generated outputs addressable by file id until they expire.
type MediaStore struct {
	backend Backend
	sealer  *sealer
	ttl     time.Duration
	now     func() time.Time
}

// New builds the media store on the configured backend.
func New(ctx context.Context, cfg config.FilesConfig) (*MediaStore, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sealer, err := newSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	store := NewMediaStore(backend, cfg.DefaultTTL)
	store.sealer = sealer
	return store, nil
}

func NewMediaStore(backend Backend, ttl time.Duration) *MediaStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MediaStore{backend: backend, ttl: ttl, now: time.Now}
}

// Save writes data under a fresh file id.
func (m *MediaStore) Save(ctx context.Context, data []byte, media Media) (File, error) {
	if len(data) == 0 {
		return File{}, fmt.Errorf("blob: empty media payload")
	}
	file := File{
		ID:          filePrefix + uuid.NewString() + extensionFor(media.ContentType),
		ContentType: media.ContentType,
		Bytes:       int64(len(data)),
		JobID:       media.JobID,
		Model:       media.Model,
		Family:      media.Family,
		Modality:    media.Modality,
		ExpiresAt:   m.now().UTC().Add(m.ttl).Truncate(time.Second),
	}
	key := mediaPrefix + file.ID
	meta := file.metadata()
	body := data
	if m.sealer != nil {
		sealed, err := m.sealer.seal(key, data)
		if err != nil {
			return File{}, fmt.Errorf("encrypt media: %w", err)
		}
		body = sealed
		meta[metaEncryption] = encryptionMethod
		file.Encrypted = true
	}
	if err := m.backend.Put(ctx, key, bytes.NewReader(body), PutOptions{ContentType: media.ContentType, Metadata: meta}); err != nil {
		return File{}, fmt.Errorf("store media: %w", err)
	}
	return file, nil
}

// Open returns the content of a stored file. Expired files are deleted and
// reported as ErrNotFound.
func (m *MediaStore) Open(ctx context.Context, fileID string) (io.ReadCloser, File, error) {
	key, ok := keyForID(fileID)
	if !ok {
		return nil, File{}, ErrNotFound
	}
	reader, info, err := m.backend.Get(ctx, key)
	if err != nil {
		return nil, File{}, err
	}
	file := fileFromInfo(fileID, info)
	if !file.ExpiresAt.IsZero() && m.now().After(file.ExpiresAt) {
		reader.Close()
		_ = m.backend.Delete(ctx, key)
		return nil, File{}, ErrNotFound
	}
	if !file.Encrypted {
		return reader, file, nil
	}

	defer reader.Close()
	if m.sealer == nil {
		return nil, File{}, fmt.Errorf("blob: %s is encrypted and no key is configured", fileID)
	}
	sealed, err := io.ReadAll(reader)
	if err != nil {
		return nil, File{}, err
	}
	plain, err := m.sealer.open(key, sealed)
	if err != nil {
		return nil, File{}, err
	}
	file.Bytes = int64(len(plain))
	return io.NopCloser(bytes.NewReader(plain)), file, nil
}

// Sweep deletes expired media and reports how many files were removed.
func (m *MediaStore) Sweep(ctx context.Context) (int, error) {
	keys, err := m.backend.List(ctx, mediaPrefix)
	if err != nil {
		return 0, fmt.Errorf("list media: %w", err)
	}
	now := m.now()
	removed := 0
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := m.backend.Stat(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		expires := fileFromInfo(strings.TrimPrefix(key, mediaPrefix), info).ExpiresAt
		if expires.IsZero() || !now.After(expires) {
			continue
		}
		if err := m.backend.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// RunJanitor sweeps expired media every interval until ctx is done. A
// non-positive interval disables it.
func (m *MediaStore) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("media sweep failed", slog.String("error", err.Error()))
			}
			if removed > 0 {
				logger.Info("expired media removed", slog.Int("files", removed))
			}
		}
	}
}

func (f File) metadata() map[string]string {
	meta := map[string]string{metaExpiresAt: f.ExpiresAt.Format(time.RFC3339)}
	for k, v := range map[string]string{
		metaJobID:    f.JobID,
		metaModel:    f.Model,
		metaFamily:   f.Family,
		metaModality: f.Modality,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}

func fileFromInfo(fileID string, info ObjectInfo) File {
	file := File{
		ID:          fileID,
		ContentType: info.ContentType,
		Bytes:       info.Size,
		JobID:       info.Metadata[metaJobID],
		Model:       info.Metadata[metaModel],
		Family:      info.Metadata[metaFamily],
		Modality:    info.Metadata[metaModality],
		Encrypted:   info.Metadata[metaEncryption] != "",
	}
	if ts, err := time.Parse(time.RFC3339, info.Metadata[metaExpiresAt]); err == nil {
		file.ExpiresAt = ts
	}
	return file
}

func keyForID(fileID string) (string, bool) {
	if !strings.HasPrefix(fileID, filePrefix) || strings.ContainsAny(fileID, "/\\") {
		return "", false
	}
	return mediaPrefix + fileID, true
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
