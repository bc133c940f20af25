package s3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "charts/close/2024/03/09/20240309_140507_epoch.png", ObjectKey("/charts/close/", "/tmp/x/epoch.png", at))
	assert.Equal(t, "2024/03/09/20240309_140507_w.json", ObjectKey("", "w.json", at))
}

func TestUploaderPublish(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "chart.png")
	require.NoError(t, os.WriteFile(file, []byte("png-bytes"), 0o644))

	client := &fakeS3{}
	u := &Uploader{
		Client: client,
		Bucket: "research-artifacts",
		Prefix: "charts",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	require.NoError(t, u.Publish(context.Background(), file))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "research-artifacts", *in.Bucket)
	assert.Equal(t, "charts/2024/01/02/20240102_030405_chart.png", *in.Key)
	assert.Equal(t, "image/png", *in.ContentType)
	assert.Equal(t, "png-bytes", client.bodies[0])
}

func TestUploaderErrors(t *testing.T) {
	u := &Uploader{Client: &fakeS3{err: errors.New("denied")}, Bucket: "b", Logger: slog.Default()}

	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "w.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	err = u.Publish(context.Background(), file)
	assert.ErrorContains(t, err, "denied")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("a.PNG"))
	assert.Equal(t, "application/json", contentType("w.json"))
	assert.Equal(t, "text/csv", contentType("d.csv"))
	assert.Equal(t, "application/octet-stream", contentType("w.bin"))
}
