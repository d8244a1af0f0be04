package bipro

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthReason classifies why an STS handshake failed.
type AuthReason string

const (
	ReasonInvalidCredentials   AuthReason = "invalid_credentials"
	ReasonEndpointUnreachable  AuthReason = "endpoint_unreachable"
	ReasonMalformedSTSResponse AuthReason = "malformed_response"
)

// AuthError is a failed STS handshake. It is never retried automatically.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenUnavailableError is returned when no valid security token could be
// obtained for a call.
type TokenUnavailableError struct {
	Err error
}

func (e *TokenUnavailableError) Error() string {
	return fmt.Sprintf("security token unavailable: %v", e.Err)
}

func (e *TokenUnavailableError) Unwrap() error { return e.Err }

// TransferError is a failed BiPRO 430 call. Status carries the HTTP status
// code when the carrier responded, 0 on transport-level failures.
type TransferError struct {
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transfer %s failed: HTTP %d: %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("transfer %s failed: %s", e.Op, e.Msg)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ShipmentNotFoundError reports a shipment ID the carrier does not know.
type ShipmentNotFoundError struct {
	ShipmentID string
}

func (e *ShipmentNotFoundError) Error() string {
	return fmt.Sprintf("shipment %q not found", e.ShipmentID)
}

// MalformedResponseError reports an MTOM/XOP response the decoder could not
// make sense of. The raw response is worth logging; it is never retried.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed transfer response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed transfer response: %s", e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a carrier throttle signal (429/503).
func IsRateLimited(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Status == http.StatusTooManyRequests || te.Status == http.StatusServiceUnavailable
	}
	return false
}

// IsRetryable reports whether err is transient: a throttle signal, a timeout
// or a connection-level failure.
func IsRetryable(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	var te *TransferError
	if errors.As(err, &te) {
		// Status 0 means the request never got an HTTP response
		// (timeout, connection reset).
		return te.Status == 0 && te.Err != nil
	}
	return false
}
