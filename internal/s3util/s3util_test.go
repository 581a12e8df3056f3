package s3util

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
	put     *s3.PutObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body)), ContentType: aws.String("text/markdown")}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, nil
}

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://docs/talks/intro.md")
	require.NoError(t, err)
	assert.Equal(t, "docs", bucket)
	assert.Equal(t, "talks/intro.md", key)

	for _, bad := range []string{"docs/intro.md", "s3://docs", "s3:///key", "s3://docs/"} {
		_, _, err := ParseURI(bad)
		assert.ErrorIs(t, err, ErrNotS3URI, bad)
	}
}

func TestGetObject(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"docs/a.md": "# Title\nBody"}}

	data, ct, err := GetObject(context.Background(), client, "docs", "a.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "# Title\nBody", string(data))
	assert.Equal(t, "text/markdown", ct)

	_, _, err = GetObject(context.Background(), client, "docs", "a.md", 4)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = GetObject(context.Background(), client, "docs", "missing.md", 0)
	assert.Error(t, err)
}

func TestPutObjectTagsUpload(t *testing.T) {
	client := &fakeS3{}
	require.NoError(t, PutObject(context.Background(), client, "out", "deck.zip", "application/zip", []byte("zip")))

	require.NotNil(t, client.put)
	assert.Equal(t, "deck.zip", *client.put.Key)
	assert.Equal(t, "application/zip", *client.put.ContentType)
	assert.Equal(t, "Project=ai-deck-builder", *client.put.Tagging)
}
