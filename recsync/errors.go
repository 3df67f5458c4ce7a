// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrSyncDisabled is returned by SyncNow when synchronization is disabled.
	ErrSyncDisabled = errors.New("sync is disabled")
	// ErrSyncRunning is returned by state-mutating calls made while a pull is in flight.
	ErrSyncRunning = errors.New("sync is running")
	// ErrStoreBusy is returned when a concurrent write to the same store is rejected.
	ErrStoreBusy = errors.New("store is busy, try again")
	// ErrUploadInFlight is returned when a second item tries to enter the uploading state.
	ErrUploadInFlight = errors.New("another upload is in flight")
	// ErrItemNotFound is returned for queue operations on an unknown recording id.
	ErrItemNotFound = errors.New("queue item not found")
	// ErrNotRetryable is returned by RetryItem for an item that is not failed.
	ErrNotRetryable = errors.New("queue item is not retryable")
	// ErrEntityNotFound is returned by local stores when an entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrInvalidConfig is returned when a configuration update fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidChange is returned when a wire change cannot be decoded.
	ErrInvalidChange = errors.New("invalid change record")
)

// TransportErrorKind classifies failures reported by the backend transport
type TransportErrorKind string

const (
	KindReauthenticate    TransportErrorKind = "reauthenticate"
	KindCursorInvalid     TransportErrorKind = "cursor_invalid"
	KindServerUnavailable TransportErrorKind = "server_unavailable"
	KindTransport         TransportErrorKind = "transport"
)

// Kind sentinels usable with errors.Is against a *TransportError.
var (
	ErrReauthenticate    = &TransportError{Kind: KindReauthenticate}
	ErrCursorInvalid     = &TransportError{Kind: KindCursorInvalid}
	ErrServerUnavailable = &TransportError{Kind: KindServerUnavailable}
)

// TransportError is a classified backend failure
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindReauthenticate:
		return "Authentication failed: please sign in again"
	case KindCursorInvalid:
		return "Sync cursor is invalid or expired: reset required"
	case KindServerUnavailable:
		if e.StatusCode > 0 {
			return fmt.Sprintf("Server unavailable (status %d): retry later", e.StatusCode)
		}
		return "Server unavailable: retry later"
	default:
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		return "Network request failed: " + msg
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches any *TransportError of the same kind, so the kind sentinels work with errors.Is.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ErrorFromStatus maps an HTTP status code from the backend to a classified error.
// It returns nil for 2xx codes.
func ErrorFromStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &TransportError{Kind: KindReauthenticate, StatusCode: status, Message: body}
	case status == http.StatusBadRequest:
		return &TransportError{Kind: KindCursorInvalid, StatusCode: status, Message: body}
	case status >= 500:
		return &TransportError{Kind: KindServerUnavailable, StatusCode: status, Message: body}
	default:
		msg := fmt.Sprintf("server returned status %d", status)
		if body != "" {
			msg += ": " + body
		}
		return &TransportError{Kind: KindTransport, StatusCode: status, Message: msg}
	}
}

// ClassifyError converts an arbitrary transport failure into a *TransportError.
// Already classified errors pass through; timeouts count as server unavailability.
func ClassifyError(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransportError{Kind: KindServerUnavailable, Err: err}
	}
	return &TransportError{Kind: KindTransport, Message: err.Error(), Err: err}
}
