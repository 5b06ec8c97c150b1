package feed

import "errors"

var (
	// ErrEmptyBody rejects submissions whose trimmed body is empty.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBodyTooLong rejects submissions over the body length limit.
	ErrBodyTooLong = errors.New("message body too long")
	// ErrForbidden denies an operation without revealing message ownership.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable marks store failures the caller may retry.
	ErrStoreUnavailable = errors.New("message store unavailable")
)
