package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Bucket keeps archived batches in an S3 compatible bucket.
type S3Bucket struct {
	Client        *s3.Client
	PresignClient *s3.PresignClient
	Bucket        string
	PublicURL     string // Optional base URL when the bucket is publicly readable
}

func NewS3Bucket(client *s3.Client, bucket, publicURL string) *S3Bucket {
	return &S3Bucket{
		Client:        client,
		PresignClient: s3.NewPresignClient(client),
		Bucket:        bucket,
		PublicURL:     publicURL,
	}
}

func (b *S3Bucket) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit batch to S3: %w", err)
	}
	return nil
}

func (b *S3Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit batch from S3: %w", err)
	}
	return resp.Body, nil
}

// Location prefers the public URL and falls back to a presigned link valid for one hour.
func (b *S3Bucket) Location(ctx context.Context, key string) (string, error) {
	if b.PublicURL != "" {
		return fmt.Sprintf("%s/%s", b.PublicURL, key), nil
	}
	req, err := b.PresignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to presign audit batch URL: %w", err)
	}
	return req.URL, nil
}
