package link

import (
	"errors"

	"github.com/kstaniek/go-btlink/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrInvalidConfig  = errors.New("invalid link config")
	ErrAlreadyStarted = errors.New("link worker already started")
	ErrStopped        = errors.New("link worker stopped")
	ErrOpen           = errors.New("link open")
	ErrRead           = errors.New("link read")
	ErrWrite          = errors.New("link write")
	ErrClose          = errors.New("link close")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrOpen):
		return metrics.ErrLinkOpen
	case errors.Is(err, ErrRead):
		return metrics.ErrLinkRead
	case errors.Is(err, ErrWrite):
		return metrics.ErrLinkWrite
	case errors.Is(err, ErrClose):
		return metrics.ErrLinkClose
	default:
		return "other"
	}
}
