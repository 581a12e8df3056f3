package cli

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/fpang/ai-deck-builder/internal/export"
	"github.com/fpang/ai-deck-builder/internal/lambdaboot"
	"github.com/fpang/ai-deck-builder/internal/logging"
	"github.com/fpang/ai-deck-builder/internal/s3util"
	"github.com/fpang/ai-deck-builder/internal/store"
)

// Storage is the persistence wiring selected by the configuration.
type Storage struct {
	Decks store.DeckStore
	// Uploader and Documents are nil unless an S3 bucket is configured.
	Uploader  *export.Uploader
	Documents s3util.Getter

	closers []func() error
}

// Close releases the underlying database, if any.
func (s *Storage) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenStorage opens the deck store named by cfg.Store. When cfg.S3Bucket is
// set, images are offloaded to S3 and bundle links are published there.
// startup, when non-nil, records the resources in use.
func OpenStorage(ctx context.Context, cfg config.Config, startup *logging.StartupLogger) (*Storage, error) {
	s := &Storage{}

	switch cfg.Store {
	case config.StoreMemory:
		s.Decks = store.NewMemoryStore()
		if startup != nil {
			startup.Config("store", "memory")
		}
	case config.StoreSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.Decks = db
		s.closers = append(s.closers, db.Close)
		if startup != nil {
			startup.SQLiteFile("decks", cfg.SQLitePath)
		}
	}

	if cfg.Store != config.StoreDynamo && cfg.S3Bucket == "" {
		return s, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Store == config.StoreDynamo {
		s.Decks = store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
		if startup != nil {
			startup.DynamoTable("decks", cfg.DynamoTable)
		}
	}
	if c := lambdaboot.InitS3(awsCfg, cfg.S3Bucket); c != nil {
		s.Decks = &store.OffloadingStore{DeckStore: s.Decks, Images: c.Offloader(cfg.S3Prefix)}
		s.Uploader = c.Uploader(cfg.S3Prefix)
		s.Documents = c.Client
		if startup != nil {
			startup.S3Bucket("decks", cfg.S3Bucket)
		}
	}
	log.Debug().Str("store", cfg.Store).Bool("s3", s.Uploader != nil).Msg("Storage ready")
	return s, nil
}
