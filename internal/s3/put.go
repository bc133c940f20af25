package s3

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the slice of the S3 client the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies research artifacts (charts, weight files) to a bucket
// under a dated prefix.
type Uploader struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Logger *slog.Logger

	now func() time.Time
}

func NewUploader(ctx context.Context, region, bucket, prefix string, logger *slog.Logger) (*Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &Uploader{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Prefix: prefix,
		Logger: logger,
		now:    time.Now,
	}, nil
}

// ObjectKey formats <prefix>/YYYY/MM/DD/YYYYMMDD_HHMMSS_<file>.
func ObjectKey(prefix, localPath string, at time.Time) string {
	name := at.Format("20060102_150405") + "_" + filepath.Base(localPath)
	return path.Join(strings.Trim(prefix, "/"), at.Format("2006/01/02"), name)
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Upload puts the file and returns its key.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	now := time.Now
	if u.now != nil {
		now = u.now
	}
	key := ObjectKey(u.Prefix, localPath, now())

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %q: %w", localPath, err)
	}
	defer file.Close()

	_, err = u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.Bucket, key, err)
	}
	u.Logger.Info("Uploaded artifact", "bucket", u.Bucket, "key", key)
	return key, nil
}

// Publish lets the uploader act as a chart or checkpoint sink.
func (u *Uploader) Publish(ctx context.Context, localPath string) error {
	_, err := u.Upload(ctx, localPath)
	return err
}
