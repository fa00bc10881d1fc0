package midjourney

import "errors"

// Typed errors returned by midjourney operations.
var (
	ErrConfigMissing      = errors.New("midjourney api key or base url not configured")
	ErrSubmission         = errors.New("submission returned no task id")
	ErrTransport          = errors.New("transport error")
	ErrPollTimeout        = errors.New("poll budget exhausted")
	ErrTaskFailed         = errors.New("task failed")
	ErrSourceFetch        = errors.New("source task fetch failed")
	ErrMissingMessageHash = errors.New("source task has no message hash")
	ErrInvalidPosition    = errors.New("invalid grid position")
)
