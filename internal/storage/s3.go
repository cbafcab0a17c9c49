package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/rs/zerolog"
)

type S3Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// S3Bucket uploads to any S3 compatible endpoint.
type S3Bucket struct {
	uploader s3manageriface.UploaderAPI
	cfg      S3Config
	log      zerolog.Logger
}

func NewS3Bucket(cfg S3Config, log zerolog.Logger) (*S3Bucket, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return newS3Bucket(s3manager.NewUploader(sess), cfg, log), nil
}

func newS3Bucket(uploader s3manageriface.UploaderAPI, cfg S3Config, log zerolog.Logger) *S3Bucket {
	return &S3Bucket{uploader: uploader, cfg: cfg, log: log}
}

func (b *S3Bucket) Upload(ctx context.Context, key string, data []byte, contentType string) (Result, error) {
	out, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUpload, key, err)
	}

	url := joinURL(b.cfg.PublicBaseURL, key)
	if url == "" && out != nil {
		url = out.Location
	}

	b.log.Info().
		Str("bucket", b.cfg.Bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("uploaded object")

	return Result{Key: key, URL: url}, nil
}
