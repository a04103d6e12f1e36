package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"odprt-chatbot/gateway/internal/upstream"
	"odprt-chatbot/gateway/pkg/cache"
	"odprt-chatbot/gateway/pkg/logger"
)

const listCacheKey = "bucket:files"

// Bucket is the slice of the upstream client the file service needs.
type Bucket interface {
	ProcessUpload(ctx context.Context, filename string, r io.Reader) ([]string, error)
	IngestFiles(ctx context.Context, files map[string]io.Reader) error
	UploadToBucket(ctx context.Context, files map[string]io.Reader) error
	FetchFiles(ctx context.Context) ([]upstream.StoredFile, error)
	DeleteFiles(ctx context.Context, fileNames []string) error
	DownloadFile(ctx context.Context, filePath string) (io.ReadCloser, string, error)
}

// Service manages the knowledge bucket: admin uploads flow into both the
// ingestion pipeline and the bucket, listings are cached, and chat
// attachments are parsed into text for the query call.
type Service struct {
	bucket     Bucket
	cache      *cache.Cache
	allowedExt map[string]struct{}
	maxSize    int64
	log        *logger.Logger
}

// NewService creates a file service. allowedExts are lowercase extensions
// with dots, e.g. ".pdf".
func NewService(bucket Bucket, c *cache.Cache, allowedExts []string, maxSize int64, log *logger.Logger) *Service {
	allowed := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Service{bucket: bucket, cache: c, allowedExt: allowed, maxSize: maxSize, log: log}
}

// ValidationError reports a locally rejected upload. It never reaches the
// backend.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("file %q rejected: %s", e.Filename, e.Reason)
}

// Validate checks a filename and size against the upload policy.
func (s *Service) Validate(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := s.allowedExt[ext]; !ok {
		return &ValidationError{Filename: filename, Reason: "extension " + ext + " not allowed"}
	}
	if s.maxSize > 0 && size > s.maxSize {
		return &ValidationError{Filename: filename, Reason: fmt.Sprintf("size %d exceeds limit %d", size, s.maxSize)}
	}
	return nil
}

// Upload pushes named file contents through ingestion and into the bucket.
// Every file must pass validation before any byte leaves the gateway. The
// cached listing is invalidated on success.
func (s *Service) Upload(ctx context.Context, contents map[string][]byte) error {
	if len(contents) == 0 {
		return &ValidationError{Reason: "no files supplied"}
	}
	for name, data := range contents {
		if err := s.Validate(name, int64(len(data))); err != nil {
			return err
		}
	}

	readers := func() map[string]io.Reader {
		m := make(map[string]io.Reader, len(contents))
		for name, data := range contents {
			m[name] = bytes.NewReader(data)
		}
		return m
	}

	if err := s.bucket.IngestFiles(ctx, readers()); err != nil {
		return fmt.Errorf("ingest files: %w", err)
	}
	if err := s.bucket.UploadToBucket(ctx, readers()); err != nil {
		return fmt.Errorf("upload to bucket: %w", err)
	}

	if s.cache != nil {
		s.cache.Delete(listCacheKey)
	}
	return nil
}

// List returns the bucket contents, cached briefly.
func (s *Service) List(ctx context.Context) ([]upstream.StoredFile, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(listCacheKey); ok {
			if files, ok := v.([]upstream.StoredFile); ok {
				return files, nil
			}
		}
	}

	files, err := s.bucket.FetchFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch files: %w", err)
	}
	if files == nil {
		files = []upstream.StoredFile{}
	}
	if s.cache != nil {
		s.cache.Set(listCacheKey, files)
	}
	return files, nil
}

// Delete removes the named files from the bucket and invalidates the cached
// listing.
func (s *Service) Delete(ctx context.Context, fileNames []string) error {
	if len(fileNames) == 0 {
		return &ValidationError{Reason: "no file names supplied"}
	}
	if err := s.bucket.DeleteFiles(ctx, fileNames); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(listCacheKey)
	}
	return nil
}

// Download streams a bucket file. The caller must close the reader.
func (s *Service) Download(ctx context.Context, filePath string) (io.ReadCloser, string, error) {
	return s.bucket.DownloadFile(ctx, filePath)
}

// ParseAttachment extracts text from a chat attachment via the document
// parser. The chunks come back joined into one block for the query call.
func (s *Service) ParseAttachment(ctx context.Context, filename string, data []byte) (string, error) {
	if err := s.Validate(filename, int64(len(data))); err != nil {
		return "", err
	}
	chunks, err := s.bucket.ProcessUpload(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse attachment %s: %w", filename, err)
	}
	return strings.Join(chunks, " "), nil
}
