package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/ai-deck-builder/internal/auth"
	"github.com/fpang/ai-deck-builder/internal/ingest"
	"github.com/rs/zerolog/log"
)

// ResolveDocument checks that path names a readable document of a supported
// type and returns its absolute path.
func ResolveDocument(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("document not found: %s", path)
		}
		return "", fmt.Errorf("access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if !ingest.IsSupported(path) {
		return "", fmt.Errorf("%s: %w", path, ingest.ErrUnsupported)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// HandleValidationError processes auth.ValidationError and exits with appropriate messaging.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if errors.As(err, &validationErr) {
		switch validationErr.Type {
		case auth.ErrTypeNoKey:
			log.Fatal().Msg("No API key configured. Set GEMINI_API_KEY, add apiKey to ~/.ai-deck-builder/config.yaml or store it GPG-encrypted")
		case auth.ErrTypeInvalidKey:
			log.Fatal().Err(err).Msg("Invalid API key. Please check your API key and try again")
		case auth.ErrTypeNetworkError:
			log.Fatal().Err(err).Msg("Network error. Please check your internet connection")
		case auth.ErrTypeQuotaExceeded:
			log.Fatal().Err(err).Msg("API quota exceeded. Please try again later or check your usage limits")
		default:
			log.Fatal().Err(err).Msg("API key validation failed")
		}
	} else {
		log.Fatal().Err(err).Msg("unexpected error during API key validation")
	}
	os.Exit(1)
}
