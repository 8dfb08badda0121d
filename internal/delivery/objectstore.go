package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

// ErrIncompleteStorageConfig is returned when object storage delivery is
// requested without the full HMAC credential set, endpoint, and bucket.
var ErrIncompleteStorageConfig = errors.New("delivery: object storage credentials, endpoint, and bucket are required")

const (
	uploadPartSize = 5 * 1024 * 1024

	// IBM COS accepts any region token with HMAC credentials; the endpoint
	// decides where the bucket lives.
	objectRegion = "us-standard"
)

type objectUploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Uploader copies report workbooks into an S3-compatible object storage
// bucket.
type Uploader struct {
	uploader objectUploader
	bucket   string
	logger   *logger.Logger
}

// NewUploader validates the configuration and builds an uploader.
func NewUploader(ctx context.Context, cfg config.COSConfig, logg *logger.Logger) (*Uploader, error) {
	if logg == nil {
		return nil, ErrMissingLogger
	}
	if !cfg.Complete() {
		return nil, ErrIncompleteStorageConfig
	}

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(objectRegion),
		Endpoint:         aws.String(cfg.Endpoint),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfig, err, "build object storage session")
	}

	uploader := &Uploader{
		uploader: s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: cfg.Bucket,
		logger: logg,
	}
	uploader.log(ctx, "init", "new_uploader", map[string]any{
		"bucket":   cfg.Bucket,
		"endpoint": cfg.Endpoint,
	})
	return uploader, nil
}

// Upload copies the report file into the bucket under the given object name.
// An empty name falls back to the file's base name.
func (u *Uploader) Upload(ctx context.Context, path, name string) error {
	if name == "" {
		name = filepath.Base(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open report file")
	}
	defer file.Close()

	u.log(ctx, "request", "upload", map[string]any{
		"bucket": u.bucket,
		"object": name,
	})

	_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(name),
		Body:   file,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "upload report object")
	}

	u.log(ctx, "response", "upload", map[string]any{
		"bucket": u.bucket,
		"object": name,
	})
	return nil
}

func (u *Uploader) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if u.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "delivery",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	u.logger.Info(u.logger.WithFields(ctx, merged), "report delivery")
}
