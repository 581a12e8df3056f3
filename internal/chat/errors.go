package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// statusPattern matches 429 only where it stands as a status code, as in
// "Error 429", "code: 429", "HTTP 429" or "429 Too Many Requests".
var statusPattern = regexp.MustCompile(`(?i)(\b(error|code|status|http)\b[\s:=]*429\b|\b429\s+too many requests\b)`)

// IsRateLimited reports whether err carries an HTTP 429 or a quota signal
// from the Gemini API.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED"
	}

	// The SDK may return APIError by value; its message carries the code and status.
	errLower := strings.ToLower(err.Error())
	return statusPattern.MatchString(errLower) ||
		strings.Contains(errLower, "resource_exhausted") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "rate limit")
}

// classifyError maps a failed remote call onto the generation taxonomy.
// Rate limits become transient errors so the retry wrapper can back off;
// everything else is a generation failure.
func classifyError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsRateLimited(err):
		log.Warn().Err(err).Str("op", op).Msg("Gemini rate limit hit")
		return generr.Transient(op, err)
	case errors.Is(err, context.DeadlineExceeded):
		log.Error().Err(err).Str("op", op).Msg("Gemini call timed out")
		return generr.Generation(op, "remote call timed out", err)
	case errors.Is(err, context.Canceled):
		return generr.Canceled(err)
	default:
		log.Error().Err(err).Str("op", op).Msg("Gemini call failed")
		return generr.Generation(op, "remote call failed", err)
	}
}
