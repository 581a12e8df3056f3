// Package cli holds the setup and terminal helpers shared by the deckgen
// and deck-web binaries.
package cli

import (
	"context"

	"github.com/fpang/ai-deck-builder/internal/auth"
	"github.com/fpang/ai-deck-builder/internal/chat"
	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/rs/zerolog/log"
)

// InitService resolves the API key, creates a Gemini client and returns the
// content service for cfg's models. Unless skipValidation is set the key is
// checked with a test call first. Exits fatally on failure.
func InitService(ctx context.Context, cfg config.Config, skipValidation bool) *chat.Service {
	apiKey, err := auth.GetAPIKey(cfg.APIKey)
	if err != nil {
		HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no API key", Err: err})
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	log.Info().Msg("connection successful - Gemini client initialized")

	if !skipValidation {
		if err := auth.ValidateAPIKey(ctx, client.Models, cfg.TextModel); err != nil {
			HandleValidationError(err)
		}
		log.Info().Msg("API key validation complete - ready for operations")
	}

	return chat.NewService(client.Models, cfg.TextModel, cfg.ImageModel)
}
