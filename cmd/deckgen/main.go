package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fpang/ai-deck-builder/internal/cli"
	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/fpang/ai-deck-builder/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configFlag   string
	logLevelFlag string
	storeFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "deckgen",
	Short: "Generate slide decks from a topic or a document",
	Long: `deckgen builds a presentation with Gemini: it drafts an outline from a
topic (or splits a document into sections), writes each slide, and
illustrates the slides that call for a picture.

Decks are saved to the local store (~/.ai-deck-builder/decks.db by default)
and can be shown, refined slide by slide and exported afterwards.

Examples:
  deckgen generate "Intro to solar power" --audience "high school"
  deckgen generate --file notes.md --theme "dark neon"
  deckgen generate --pick
  deckgen list
  deckgen show deck-1a2b3c4d
  deckgen regenerate deck-1a2b3c4d s3 -i "Make it more concise"
  deckgen export deck-1a2b3c4d --format bundle -o deck.zip`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.ai-deck-builder/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Deck store: sqlite, memory or dynamo")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the per-invocation wiring shared by the subcommands.
type app struct {
	cfg     config.Config
	storage *cli.Storage
}

// setup loads the configuration, initializes logging and opens storage.
func setup(ctx context.Context) (*app, error) {
	logging.Init()
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if storeFlag != "" {
		cfg.Store = storeFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	level := cfg.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logging.SetLevel(level)

	storage, err := cli.OpenStorage(ctx, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Debug().Str("store", cfg.Store).Msg("deckgen ready")
	return &app{cfg: cfg, storage: storage}, nil
}

func (a *app) close() {
	if err := a.storage.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close storage")
	}
}
