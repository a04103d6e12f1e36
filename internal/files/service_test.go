package files

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/internal/upstream"
	"odprt-chatbot/gateway/pkg/cache"
	"odprt-chatbot/gateway/pkg/logger"
)

type fakeBucket struct {
	ingested   [][]string
	uploaded   [][]string
	deleted    [][]string
	fetchCalls int
	files      []upstream.StoredFile
	chunks     []string
	parseErr   error
}

func names(m map[string]io.Reader) []string {
	var out []string
	for name := range m {
		out = append(out, name)
	}
	return out
}

func (b *fakeBucket) ProcessUpload(_ context.Context, filename string, _ io.Reader) ([]string, error) {
	if b.parseErr != nil {
		return nil, b.parseErr
	}
	return b.chunks, nil
}

func (b *fakeBucket) IngestFiles(_ context.Context, files map[string]io.Reader) error {
	b.ingested = append(b.ingested, names(files))
	return nil
}

func (b *fakeBucket) UploadToBucket(_ context.Context, files map[string]io.Reader) error {
	b.uploaded = append(b.uploaded, names(files))
	return nil
}

func (b *fakeBucket) FetchFiles(_ context.Context) ([]upstream.StoredFile, error) {
	b.fetchCalls++
	return b.files, nil
}

func (b *fakeBucket) DeleteFiles(_ context.Context, fileNames []string) error {
	b.deleted = append(b.deleted, fileNames)
	return nil
}

func (b *fakeBucket) DownloadFile(_ context.Context, _ string) (io.ReadCloser, string, error) {
	return io.NopCloser(nil), "application/pdf", nil
}

func newTestService(t *testing.T) (*Service, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{}
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	svc := NewService(bucket, cache.NewCache(), []string{".pdf", ".txt"}, 1<<20, log)
	return svc, bucket
}

func TestUploadRejectsDisallowedExtensionLocally(t *testing.T) {
	svc, bucket := newTestService(t)

	err := svc.Upload(context.Background(), map[string][]byte{"malware.exe": []byte("x")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, bucket.ingested, "rejected uploads never reach the backend")
	assert.Empty(t, bucket.uploaded)
}

func TestUploadRejectsOversizeFile(t *testing.T) {
	svc, bucket := newTestService(t)

	err := svc.Upload(context.Background(), map[string][]byte{"big.pdf": make([]byte, 2<<20)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, bucket.ingested)
}

func TestUploadIngestsThenStores(t *testing.T) {
	svc, bucket := newTestService(t)

	err := svc.Upload(context.Background(), map[string][]byte{
		"guide.pdf": []byte("pdf bytes"),
		"notes.txt": []byte("text"),
	})
	require.NoError(t, err)
	require.Len(t, bucket.ingested, 1)
	require.Len(t, bucket.uploaded, 1)
	assert.ElementsMatch(t, []string{"guide.pdf", "notes.txt"}, bucket.ingested[0])
	assert.ElementsMatch(t, []string{"guide.pdf", "notes.txt"}, bucket.uploaded[0])
}

func TestListCachesUntilMutation(t *testing.T) {
	svc, bucket := newTestService(t)
	bucket.files = []upstream.StoredFile{{Name: "guide.pdf"}}

	_, err := svc.List(context.Background())
	require.NoError(t, err)
	_, err = svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bucket.fetchCalls)

	require.NoError(t, svc.Delete(context.Background(), []string{"guide.pdf"}))
	_, err = svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, bucket.fetchCalls, "delete invalidates the cached listing")
}

func TestDeleteRequiresNames(t *testing.T) {
	svc, bucket := newTestService(t)

	err := svc.Delete(context.Background(), nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, bucket.deleted)
}

func TestParseAttachmentJoinsChunks(t *testing.T) {
	svc, bucket := newTestService(t)
	bucket.chunks = []string{"first chunk", "second chunk"}

	text, err := svc.ParseAttachment(context.Background(), "report.pdf", []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "first chunk second chunk", text)
}

func TestParseAttachmentValidatesFirst(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ParseAttachment(context.Background(), "script.sh", []byte("#!"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseAttachmentPropagatesParserFailure(t *testing.T) {
	svc, bucket := newTestService(t)
	bucket.parseErr = errors.New("parser down")

	_, err := svc.ParseAttachment(context.Background(), "report.pdf", []byte("pdf"))
	require.Error(t, err)
}
