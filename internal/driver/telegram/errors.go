package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ex-feedsync/pkg/feed"

	"github.com/gotd/td/tgerr"
)

// decodeError reports a Telegram answer the store could not interpret.
type decodeError struct {
	cause error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode telegram response: %v", e.cause)
}

func (e *decodeError) Unwrap() error {
	return e.cause
}

// classifyError wraps an RPC failure as a feed.FetchError.
//
// Query and cursor errors raised by the store itself pass through
// unclassified so callers can match them with errors.Is.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, feed.ErrInvalidQuery) ||
		errors.Is(err, feed.ErrInvalidCursor) ||
		errors.Is(err, feed.ErrRecordNotFound) ||
		errors.Is(err, feed.ErrUnsupported) {
		return err
	}

	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return feed.NewFetchError(feed.FetchErrorDecode, op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return feed.NewFetchError(feed.FetchErrorNetwork, op, err)
	}
	if _, ok := tgerr.AsFloodWait(err); ok {
		return feed.NewFetchError(feed.FetchErrorServer, op, err)
	}
	if rpcErr, ok := tgerr.As(err); ok {
		if isMissingMessage(rpcErr) {
			return fmt.Errorf("%s: %w: %v", op, feed.ErrRecordNotFound, err)
		}
		return feed.NewFetchError(feed.FetchErrorServer, op, err)
	}

	return feed.NewFetchError(feed.FetchErrorNetwork, op, err)
}

func isMissingMessage(rpcErr *tgerr.Error) bool {
	if rpcErr == nil {
		return false
	}

	switch strings.ToUpper(strings.TrimSpace(rpcErr.Type)) {
	case "MESSAGE_ID_INVALID", "MSG_ID_INVALID":
		return rpcErr.Code == 400
	default:
		return false
	}
}
