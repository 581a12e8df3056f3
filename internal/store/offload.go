package store

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/s3util"
	"github.com/rs/zerolog/log"
)

// ObjectStore is the S3 surface the offloader needs.
type ObjectStore interface {
	s3util.Getter
	s3util.Putter
}

// ImageOffloader moves inline images out of deck records and back.
type ImageOffloader interface {
	// Offload stores the data URI and returns the reference to persist.
	Offload(ctx context.Context, deckID, slideID, dataURI string) (string, error)
	// Restore turns a persisted reference back into a data URI. References it
	// does not own are returned unchanged.
	Restore(ctx context.Context, ref string) (string, error)
}

// S3ImageOffloader stores images at s3://<bucket>/<prefix>/<deckID>/<slideID>.<ext>.
// DynamoDB items are limited to 400 KB, which a single generated image exceeds.
type S3ImageOffloader struct {
	Client ObjectStore
	Bucket string
	Prefix string
}

var imageExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

func (o *S3ImageOffloader) Offload(ctx context.Context, deckID, slideID, dataURI string) (string, error) {
	mimeType, data, err := deck.DecodeDataURI(dataURI)
	if err != nil {
		return "", fmt.Errorf("offload image of %s: %w", slideID, err)
	}
	ext, ok := imageExts[mimeType]
	if !ok {
		ext = ".bin"
	}
	key := path.Join(o.Prefix, deckID, slideID+ext)
	if err := s3util.PutObject(ctx, o.Client, o.Bucket, key, mimeType, data); err != nil {
		return "", err
	}
	return "s3://" + o.Bucket + "/" + key, nil
}

func (o *S3ImageOffloader) Restore(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, "s3://"+o.Bucket+"/") {
		return ref, nil
	}
	bucket, key, err := s3util.ParseURI(ref)
	if err != nil {
		return "", err
	}
	data, contentType, err := s3util.GetObject(ctx, o.Client, bucket, key, 0)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/png"
	}
	return deck.EncodeDataURI(contentType, data), nil
}

// OffloadingStore wraps a DeckStore, offloading inline images on write and
// restoring them on read. Background images are handled like slide images.
type OffloadingStore struct {
	DeckStore
	Images ImageOffloader
}

func (s *OffloadingStore) PutDeck(ctx context.Context, d deck.Deck) error {
	out := d
	out.Slides = make([]deck.Slide, len(d.Slides))
	copy(out.Slides, d.Slides)

	for i, sl := range out.Slides {
		if !deck.IsDataURI(sl.ImageURL) {
			continue
		}
		ref, err := s.Images.Offload(ctx, d.ID, sl.ID, sl.ImageURL)
		if err != nil {
			return err
		}
		out.Slides[i].ImageURL = ref
	}
	if deck.IsDataURI(d.BackgroundImage) {
		ref, err := s.Images.Offload(ctx, d.ID, "background", d.BackgroundImage)
		if err != nil {
			return err
		}
		out.BackgroundImage = ref
	}
	return s.DeckStore.PutDeck(ctx, out)
}

func (s *OffloadingStore) GetDeck(ctx context.Context, id string) (*deck.Deck, error) {
	d, err := s.DeckStore.GetDeck(ctx, id)
	if err != nil || d == nil {
		return d, err
	}
	for i, sl := range d.Slides {
		if sl.ImageURL == "" {
			continue
		}
		uri, err := s.Images.Restore(ctx, sl.ImageURL)
		if err != nil {
			log.Warn().Err(err).Str("deckId", id).Str("slide", sl.ID).Msg("Image restore failed, slide keeps its placeholder")
			d.Slides[i].ImageURL = ""
			continue
		}
		d.Slides[i].ImageURL = uri
	}
	if d.BackgroundImage != "" {
		if uri, err := s.Images.Restore(ctx, d.BackgroundImage); err == nil {
			d.BackgroundImage = uri
		}
	}
	return d, nil
}
