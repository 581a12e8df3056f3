// Package generr defines the error taxonomy shared by every step of deck
// generation. Errors carry a Kind so callers can tell a rate-limited remote
// call apart from an unusable payload or an unreadable document, while still
// wrapping the underlying cause for errors.Is / errors.As.
package generr

import (
	"errors"
	"fmt"
)

// Kind categorizes a generation-pipeline failure.
type Kind int

const (
	// KindTransient indicates a rate-limit or quota signal from the remote service.
	KindTransient Kind = iota + 1
	// KindGeneration indicates the remote call produced no usable payload,
	// a payload failing validation, or failed after retries were exhausted.
	KindGeneration
	// KindIngestion indicates an uploaded or referenced document could not be read.
	KindIngestion
	// KindImage indicates an isolated per-slide image generation failure.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindGeneration:
		return "generation"
	case KindIngestion:
		return "ingestion"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "outline", "slide", "regenerate"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " failure"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a rate-limit / quota failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Message: "remote service rate limited", Err: err}
}

// Generation builds a GenerationFailure with a human-readable reason.
func Generation(op, message string, err error) error {
	return &Error{Kind: KindGeneration, Op: op, Message: message, Err: err}
}

// Generationf builds a GenerationFailure with a formatted reason and no cause.
func Generationf(op, format string, args ...any) error {
	return &Error{Kind: KindGeneration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Ingestion wraps a document read/parse failure.
func Ingestion(op string, err error) error {
	return &Error{Kind: KindIngestion, Op: op, Message: "could not read document", Err: err}
}

// Image wraps a per-slide image generation failure.
func Image(op string, err error) error {
	return &Error{Kind: KindImage, Op: op, Message: "image generation failed", Err: err}
}

// Is reports whether any *Error in err's chain has the given kind. Nested
// classified errors are inspected too, so an exhausted rate limit wrapped as a
// generation failure reports true for both kinds.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsTransient reports whether err carries a rate-limit signal.
func IsTransient(err error) bool { return Is(err, KindTransient) }

// IsGeneration reports whether err is a GenerationFailure.
func IsGeneration(err error) bool { return Is(err, KindGeneration) }

// IsIngestion reports whether err is an IngestionError.
func IsIngestion(err error) bool { return Is(err, KindIngestion) }

// UserMessage returns a short, actionable message suitable for showing to the
// person driving the workflow. It never includes raw provider payloads.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errCanceled):
		return "Generation was cancelled."
	case IsIngestion(err):
		return "The document could not be read. Check the file format and try again."
	case IsTransient(err):
		return "The AI service is rate limiting requests. Wait a minute, then retry this step."
	case IsGeneration(err):
		return "The AI service returned an unusable response. Retry this step."
	case Is(err, KindImage):
		return "An illustration could not be generated; the slide keeps a placeholder."
	default:
		return "Something went wrong. Retry this step."
	}
}

var errCanceled = errors.New("canceled")

// Canceled marks err as a cancellation so UserMessage reports it as such.
func Canceled(err error) error {
	return fmt.Errorf("%w: %w", errCanceled, err)
}
