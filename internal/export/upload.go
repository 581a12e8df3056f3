package export

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/s3util"
	"github.com/rs/zerolog/log"
)

// DefaultLinkExpiry is how long a presigned bundle link stays valid.
const DefaultLinkExpiry = time.Hour

// Uploader publishes export artifacts to S3.
type Uploader struct {
	Client    s3util.Putter
	Presigner s3util.Presigner
	Bucket    string
	Prefix    string
	Expiry    time.Duration
}

// Published is the result of an upload.
type Published struct {
	Key   string      `json:"key"`
	URL   string      `json:"url,omitempty"`
	Stats BundleStats `json:"stats"`
}

// PublishBundle builds the bundle for d, uploads it under
// <prefix>/<deckID>/<deckID>.zip and returns a presigned download link when
// a presigner is configured.
func (u *Uploader) PublishBundle(ctx context.Context, d deck.Deck) (Published, error) {
	data, stats, err := Bundle(d)
	if err != nil {
		return Published{}, err
	}
	key := path.Join(u.Prefix, d.ID, d.ID+".zip")
	if err := s3util.PutObject(ctx, u.Client, u.Bucket, key, "application/zip", data); err != nil {
		return Published{}, fmt.Errorf("upload bundle: %w", err)
	}

	pub := Published{Key: key, Stats: stats}
	if u.Presigner != nil {
		expiry := u.Expiry
		if expiry <= 0 {
			expiry = DefaultLinkExpiry
		}
		pub.URL, err = s3util.GeneratePresignedURL(ctx, u.Presigner, u.Bucket, key, expiry)
		if err != nil {
			return Published{}, err
		}
	}
	log.Info().
		Str("deck", d.ID).
		Str("bucket", u.Bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Bundle published")
	return pub, nil
}
