package redis

import "errors"

var (
	ErrClientNotInitialized = errors.New("redis client not initialized")
	ErrConnectionFailed     = errors.New("redis connection failed")

	// ErrKeyNotFound reports an absent key; Backend turns it into a nil entity.
	ErrKeyNotFound = errors.New("redis key not found")

	ErrValueTooLarge   = errors.New("value too large")
	ErrInvalidMetadata = errors.New("invalid large value metadata")
)

// IsKeyNotFound reports whether err is or wraps ErrKeyNotFound
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnectionFailed reports whether err is or wraps ErrConnectionFailed
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
