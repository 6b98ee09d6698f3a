package reset

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// Store-level results of a zero-row consume.
	ErrNotFound  = errors.New("reset token not found")
	ErrNotActive = errors.New("reset token not active")

	// Consume outcomes surfaced to callers.
	ErrInvalid = errors.New("reset token invalid")
	ErrUsed    = errors.New("reset token used")
	ErrExpired = errors.New("reset token expired")
)

// Outcome maps a Consume error to its client-facing code: "ok", "invalid",
// "used", "expired" or "error".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrUsed):
		return "used"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
