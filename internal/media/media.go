// Package media implements feed.MediaStore backends for object storage and
// plain HTTP, plus a router that dispatches media URLs by scheme.
package media

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBytes bounds one media object read.
const DefaultMaxBytes int64 = 16 << 20

// ErrTooLarge indicates that a media object exceeds the configured read limit.
var ErrTooLarge = errors.New("media: object exceeds size limit")

// readLimited reads r fully, failing once more than maxBytes are available.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}

	return data, nil
}
