// Package archive keeps a copy of every downloaded export in object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

type Archiver interface {
	Store(ctx context.Context, key string, data []byte) error
}

// Noop is used when no bucket is configured.
type Noop struct{}

func (Noop) Store(context.Context, string, []byte) error { return nil }

type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Archiver uses the default AWS credential chain.
func NewS3Archiver(ctx context.Context, bucket, region, prefix string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	log.Info().Str("bucket", bucket).Str("region", region).Msg("Export archive enabled")

	return &S3Archiver{
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (a *S3Archiver) Store(ctx context.Context, key string, data []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path.Join(a.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Key names an archived export by organization, chunk window and export id.
func Key(org string, jobID uint, chunkIndex int, start, end time.Time, exportID string) string {
	return fmt.Sprintf("%s/job-%d/%03d_%s_%s_%s.csv",
		org, jobID, chunkIndex, start.Format("20060102"), end.Format("20060102"), exportID)
}
