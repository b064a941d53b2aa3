package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader writes objects to an S3-compatible bucket and derives public URLs.
// Path-style addressing is used so MinIO/Supabase-style endpoints work without
// per-bucket DNS.
type Uploader struct {
	client        *awss3.Client
	bucket        string
	endpoint      string
	publicBaseURL string
}

type Options struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
}

func NewUploader(ctx context.Context, opts Options) (*Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load storage config failed: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Uploader{
		client:        client,
		bucket:        opts.Bucket,
		endpoint:      strings.TrimRight(opts.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// Upload stores the object and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &awss3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object failed: %w", err)
	}
	return u.PublicURL(key), nil
}

func (u *Uploader) PublicURL(key string) string {
	base := u.publicBaseURL
	if base == "" {
		base = u.endpoint
	}
	return fmt.Sprintf("%s/%s/%s", base, u.bucket, key)
}
