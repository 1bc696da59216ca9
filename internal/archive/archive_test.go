package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func testRecord() *domain.WebhookRecord {
	return &domain.WebhookRecord{
		ID:          "rec-1",
		Kind:        domain.WebhookReplied,
		PayloadHash: "abc123",
		Payload:     []byte(`{"event_type":"EMAIL_REPLY"}`),
		CreatedAt:   time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC),
	}
}

func TestArchiver_Key(t *testing.T) {
	a := NewWithAPI(newFakeS3(), "bucket", "webhooks/")
	assert.Equal(t, "webhooks/email.replied/2026/03/04/abc123.json", a.Key(testRecord()))
}

func TestArchiver_ArchiveAndFetch(t *testing.T) {
	api := newFakeS3()
	a := NewWithAPI(api, "bucket", "webhooks/")
	rec := testRecord()

	require.NoError(t, a.Archive(context.Background(), rec))
	assert.Contains(t, api.objects, "bucket/webhooks/email.replied/2026/03/04/abc123.json")

	got, err := a.Fetch(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []byte(rec.Payload), got)
}

func TestArchiver_FetchMissing(t *testing.T) {
	a := NewWithAPI(newFakeS3(), "bucket", "")
	_, err := a.Fetch(context.Background(), testRecord())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiver_PutError(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("access denied")
	a := NewWithAPI(api, "bucket", "")
	err := a.Archive(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 PutObject bucket/")
}

func TestArchiver_EmptyPayloadSkipped(t *testing.T) {
	api := newFakeS3()
	a := NewWithAPI(api, "bucket", "")
	rec := testRecord()
	rec.Payload = nil
	require.NoError(t, a.Archive(context.Background(), rec))
	assert.Empty(t, api.objects)
}
