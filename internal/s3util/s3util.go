// Package s3util provides the S3 helpers shared by document ingestion, image
// offloading, and bundle export.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ErrTooLarge is returned when an object exceeds the caller's size limit.
var ErrTooLarge = errors.New("object exceeds size limit")

// ErrNotS3URI is returned by ParseURI for anything but s3://bucket/key.
var ErrNotS3URI = errors.New("not an s3://bucket/key URI")

// projectTag is the URL-encoded object tagging string for cost allocation.
const projectTag = "Project=ai-deck-builder"

// ProjectTagging returns the tagging string for PutObjectInput.Tagging.
func ProjectTagging() *string {
	t := projectTag
	return &t
}

// Getter is the subset of *s3.Client used for reads.
type Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Putter is the subset of *s3.Client used for writes.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used for download links.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", ErrNotS3URI
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrNotS3URI, uri)
	}
	return bucket, key, nil
}

// GetObject reads an object into memory. A positive maxBytes bounds the read.
func GetObject(ctx context.Context, client Getter, bucket, key string, maxBytes int64) ([]byte, string, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, "", fmt.Errorf("S3 GetObject: %w", err)
	}
	defer out.Body.Close()

	var r io.Reader = out.Body
	if maxBytes > 0 {
		r = io.LimitReader(out.Body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("s3://%s/%s: %w (%d bytes)", bucket, key, ErrTooLarge, maxBytes)
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return data, contentType, nil
}

// PutObject uploads data with the project cost-allocation tag.
func PutObject(ctx context.Context, client Putter, bucket, key, contentType string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("Uploaded to S3")
	return nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presigner Presigner, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
