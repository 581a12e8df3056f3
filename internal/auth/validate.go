package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/ai-deck-builder/internal/chat"
	"github.com/fpang/ai-deck-builder/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateAPIKey verifies the key behind gen with a minimal text call on
// model. It returns nil if the key works, or a *ValidationError whose Type
// names the failure.
func ValidateAPIKey(ctx context.Context, gen chat.ContentGenerator, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var valErr *ValidationError
	switch {
	case err != nil:
		valErr = classifyError(err)
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		valErr = &ValidationError{Type: ErrTypeUnknown, Message: "API returned empty response"}
	}

	result := "success"
	if valErr != nil {
		result = valErr.Type.String()
	}
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// classifyError analyzes an error and returns a ValidationError with the appropriate type.
func classifyError(err error) *ValidationError {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		log.Error().Err(err).Msg("Invalid API key")
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case chat.IsRateLimited(err):
		log.Error().Err(err).Msg("API quota exceeded")
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		log.Error().Err(err).Msg("Network error during API validation")
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Network error - check your internet connection", Err: err}

	default:
		log.Error().Err(err).Msg("Unknown error during API validation")
		return &ValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
	}
}

// classifyAPIError categorizes a Google API error.
func classifyAPIError(err *genai.APIError) *ValidationError {
	switch err.Code {
	case 400, 401, 403:
		log.Error().Int("code", err.Code).Msg("Authentication failed - invalid API key")
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case 429:
		log.Error().Int("code", err.Code).Msg("Rate limit exceeded")
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded - try again later", Err: err}
	case 500, 502, 503, 504:
		log.Error().Int("code", err.Code).Msg("Server error during validation")
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Gemini API server error - try again later", Err: err}
	default:
		log.Error().Int("code", err.Code).Str("message", err.Message).Msg("Google API error")
		return &ValidationError{Type: ErrTypeUnknown, Message: err.Message, Err: err}
	}
}
