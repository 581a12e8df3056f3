package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter map[string]string

func (f fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary_search.md")
	require.NoError(t, os.WriteFile(path, []byte("\xef\xbb\xbfIntro\r\n\r\n# Binary Search\r\nHalve it.\r\n"), 0o644))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "binary_search.md", doc.Name)
	assert.Equal(t, "Binary Search", doc.Title)
	assert.Equal(t, "Intro\n\n# Binary Search\nHalve it.\n", doc.Text)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte(" \n\n"), 0o644))
	binary := filepath.Join(dir, "blob.txt")
	require.NoError(t, os.WriteFile(binary, []byte{0xff, 0xfe, 0x00}, 0o644))

	tests := []struct {
		path string
		want error
	}{
		{filepath.Join(dir, "slides.pdf"), ErrUnsupported},
		{empty, ErrEmpty},
		{binary, ErrNotText},
		{filepath.Join(dir, "missing.md"), os.ErrNotExist},
	}
	for _, tt := range tests {
		_, err := LoadFile(tt.path)
		require.Error(t, err, tt.path)
		assert.True(t, generr.IsIngestion(err), tt.path)
		assert.ErrorIs(t, err, tt.want, tt.path)
	}
}

func TestLoad_S3(t *testing.T) {
	client := fakeGetter{"docs/talks/graphs.md": "# Graphs\nNodes and edges."}

	doc, err := Load(context.Background(), client, "s3://docs/talks/graphs.md")
	require.NoError(t, err)
	assert.Equal(t, "Graphs", doc.Title)
	assert.Equal(t, "s3://docs/talks/graphs.md", doc.Source)

	_, err = Load(context.Background(), client, "s3://docs/talks/missing.md")
	assert.True(t, generr.IsIngestion(err))

	_, err = Load(context.Background(), nil, "s3://docs/talks/graphs.md")
	assert.True(t, generr.IsIngestion(err))
}

func TestRead_Upload(t *testing.T) {
	doc, err := Read("notes.txt", strings.NewReader("plain notes"))
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.Title)
	assert.Equal(t, "upload:notes.txt", doc.Source)

	_, err = Read("notes.md", strings.NewReader(strings.Repeat("a", int(MaxDocumentBytes)+1)))
	assert.True(t, generr.IsIngestion(err))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Real", Title("x.md", "```python\n# comment\n```\n# Real\n"))
	assert.Equal(t, "lecture notes", Title("lecture_notes.md", "no headers"))
	assert.Equal(t, "", Title("inline.md", "no headers"))

	doc, err := FromText("Given", "# Derived\nbody")
	require.NoError(t, err)
	assert.Equal(t, "Given", doc.Title)
}
