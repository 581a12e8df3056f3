package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

const (
	bundleDeckFile     = "deck.json"
	bundleMarkdownFile = "slides.md"
	bundleImageDir     = "images"
	bundleThumbDir     = "thumbnails"
)

// ErrNoDeck is returned by OpenBundle when the archive has no deck.json.
var ErrNoDeck = errors.New("bundle has no deck.json")

func init() {
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	zip.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())
}

// BundleStats summarises a written bundle.
type BundleStats struct {
	Slides     int `json:"slides"`
	Images     int `json:"images"`
	Thumbnails int `json:"thumbnails"`
}

// WriteBundle writes d as a zstd-compressed zip archive:
//
//	deck.json             the deck, image references rewritten to bundle paths
//	slides.md             Markdown rendering
//	images/<id>.<ext>     decoded images
//	thumbnails/<id>.jpg   downscaled previews
//
// Images that are remote URLs rather than data URIs are referenced, not copied.
func WriteBundle(w io.Writer, d deck.Deck) (BundleStats, error) {
	stats := BundleStats{Slides: len(d.Slides)}
	modTime := d.UpdatedAt
	if modTime.IsZero() {
		modTime = time.Now()
	}

	zw := zip.NewWriter(w)
	out := d
	out.Slides = make([]deck.Slide, len(d.Slides))

	for i, s := range d.Slides {
		out.Slides[i] = s
		if !deck.IsDataURI(s.ImageURL) {
			continue
		}
		mimeType, data, err := deck.DecodeDataURI(s.ImageURL)
		if err != nil {
			log.Warn().Err(err).Str("slide", s.ID).Msg("Skipping undecodable image")
			out.Slides[i].ImageURL = ""
			continue
		}

		name := path.Join(bundleImageDir, s.ID+imageExt(mimeType))
		if err := writeEntry(zw, name, data, modTime); err != nil {
			return stats, err
		}
		out.Slides[i].ImageURL = name
		stats.Images++

		thumb, err := Thumbnail(data, ThumbnailMaxDimension)
		if err != nil {
			log.Warn().Err(err).Str("slide", s.ID).Msg("Thumbnail failed, bundle keeps full image only")
			continue
		}
		if err := writeEntry(zw, path.Join(bundleThumbDir, s.ID+".jpg"), thumb, modTime); err != nil {
			return stats, err
		}
		stats.Thumbnails++
	}

	md := RenderMarkdown(out, MarkdownOptions{})
	if err := writeEntry(zw, bundleMarkdownFile, []byte(md), modTime); err != nil {
		return stats, err
	}

	doc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("marshal deck: %w", err)
	}
	if err := writeEntry(zw, bundleDeckFile, doc, modTime); err != nil {
		return stats, err
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("close ZIP writer: %w", err)
	}
	log.Info().
		Str("deck", d.ID).
		Int("slides", stats.Slides).
		Int("images", stats.Images).
		Int("thumbnails", stats.Thumbnails).
		Msg("Bundle written")
	return stats, nil
}

// Bundle returns the archive bytes for d.
func Bundle(d deck.Deck) ([]byte, BundleStats, error) {
	var buf bytes.Buffer
	stats, err := WriteBundle(&buf, d)
	if err != nil {
		return nil, stats, err
	}
	return buf.Bytes(), stats, nil
}

// OpenBundle reads a bundle back into a deck, inlining bundled images as
// data URIs again.
func OpenBundle(r io.ReaderAt, size int64) (deck.Deck, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return deck.Deck{}, fmt.Errorf("open bundle: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	f, ok := files[bundleDeckFile]
	if !ok {
		return deck.Deck{}, ErrNoDeck
	}
	raw, err := readEntry(f)
	if err != nil {
		return deck.Deck{}, err
	}
	var d deck.Deck
	if err := json.Unmarshal(raw, &d); err != nil {
		return deck.Deck{}, fmt.Errorf("decode %s: %w", bundleDeckFile, err)
	}

	for i, s := range d.Slides {
		img, ok := files[s.ImageURL]
		if !ok {
			continue
		}
		data, err := readEntry(img)
		if err != nil {
			return deck.Deck{}, err
		}
		d.Slides[i].ImageURL = deck.EncodeDataURI(mimeFromExt(path.Ext(s.ImageURL)), data)
	}
	return d, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, modTime time.Time) error {
	header := &zip.FileHeader{Name: name, Method: zipMethodZstd}
	header.SetModTime(modTime)
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create ZIP entry for %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write ZIP entry for %s: %w", name, err)
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

var imageExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func imageExt(mimeType string) string {
	if ext, ok := imageExts[mimeType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func mimeFromExt(ext string) string {
	for m, e := range imageExts {
		if e == ext {
			return m
		}
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}
