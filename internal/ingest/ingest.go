// Package ingest reads source documents for document-mode generation from
// local files, S3 objects, and uploaded streams. Every failure is reported as
// an ingestion error so the run status can tell the user to fix the file.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/s3util"
	"github.com/rs/zerolog/log"
)

// MaxDocumentBytes bounds a single document.
const MaxDocumentBytes int64 = 2 * 1024 * 1024

// SupportedExtensions maps accepted document extensions to MIME types.
var SupportedExtensions = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
}

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrNotText     = errors.New("document is not valid UTF-8 text")
	ErrEmpty       = errors.New("document is empty")
)

// Document is a normalized source document.
type Document struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Text   string `json:"-"`
}

// IsSupported reports whether name has an accepted extension.
func IsSupported(name string) bool {
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Load reads source, which is either s3://bucket/key or a local path. client
// may be nil when S3 sources are not configured.
func Load(ctx context.Context, client s3util.Getter, source string) (Document, error) {
	if strings.HasPrefix(source, "s3://") {
		if client == nil {
			return Document{}, generr.Ingestion("ingest", fmt.Errorf("%s: S3 is not configured", source))
		}
		return LoadS3(ctx, client, source)
	}
	return LoadFile(source)
}

// LoadFile reads a local document.
func LoadFile(path string) (Document, error) {
	if !IsSupported(path) {
		return Document{}, generr.Ingestion("ingest", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path)))
	}
	f, err := os.Open(path)
	if err != nil {
		return Document{}, generr.Ingestion("ingest", err)
	}
	defer f.Close()
	return read(filepath.Base(path), path, f)
}

// LoadS3 reads an s3://bucket/key document.
func LoadS3(ctx context.Context, client s3util.Getter, uri string) (Document, error) {
	bucket, key, err := s3util.ParseURI(uri)
	if err != nil {
		return Document{}, generr.Ingestion("ingest", err)
	}
	if !IsSupported(key) {
		return Document{}, generr.Ingestion("ingest", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(key)))
	}
	data, _, err := s3util.GetObject(ctx, client, bucket, key, MaxDocumentBytes)
	if err != nil {
		return Document{}, generr.Ingestion("ingest", err)
	}
	return parse(filepath.Base(key), uri, data)
}

// Read ingests an uploaded stream. name is the client-supplied file name.
func Read(name string, r io.Reader) (Document, error) {
	if !IsSupported(name) {
		return Document{}, generr.Ingestion("ingest", fmt.Errorf("%w: %q", ErrUnsupported, name))
	}
	return read(filepath.Base(name), "upload:"+filepath.Base(name), r)
}

// FromText wraps inline document text. A non-empty title overrides the
// derived one.
func FromText(title, text string) (Document, error) {
	doc, err := parse("inline.md", "inline", []byte(text))
	if err == nil && strings.TrimSpace(title) != "" {
		doc.Title = strings.TrimSpace(title)
	}
	return doc, err
}

func read(name, source string, r io.Reader) (Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return Document{}, generr.Ingestion("ingest", err)
	}
	if int64(len(data)) > MaxDocumentBytes {
		return Document{}, generr.Ingestion("ingest", fmt.Errorf("%w (%d bytes)", s3util.ErrTooLarge, MaxDocumentBytes))
	}
	return parse(name, source, data)
}

func parse(name, source string, data []byte) (Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return Document{}, generr.Ingestion("ingest", ErrNotText)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return Document{}, generr.Ingestion("ingest", ErrEmpty)
	}

	doc := Document{Name: name, Source: source, Text: text, Title: Title(name, text)}
	log.Debug().
		Str("source", source).
		Int("bytes", len(text)).
		Str("title", doc.Title).
		Msg("Document loaded")
	return doc, nil
}

// Title returns the document's first level-one header outside fenced code,
// or the file name without extension.
func Title(name, text string) string {
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if t, ok := strings.CutPrefix(line, "# "); ok {
			if t = strings.TrimSpace(strings.TrimRight(t, "# ")); t != "" {
				return t
			}
		}
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == "inline" {
		return ""
	}
	return strings.ReplaceAll(base, "_", " ")
}
