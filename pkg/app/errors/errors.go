// Package errors contains the closed error taxonomy shared by the bridge core
package errors

import (
	"errors"
	"net/http"
)

// Code identifies the failure class of a bridge operation
type Code int

const (
	// CodeNone is the zero value, never returned by a failing operation
	CodeNone Code = iota
	// CodeInvalidAmount The requested amount is outside the configured bounds
	CodeInvalidAmount
	// CodeInvalidAddress The destination address does not match the chain's canonical format
	CodeInvalidAddress
	// CodeUnsupportedChain The destination chain is not in the supported set
	CodeUnsupportedChain
	// CodeInsufficientReserve The reserve cannot cover the request without breaching the critical floor
	CodeInsufficientReserve
	// CodeQuoteNotFound No quote exists for the given id
	CodeQuoteNotFound
	// CodeQuoteExpired The quote's validity window has elapsed
	CodeQuoteExpired
	// CodeQuoteInvalid The quote is not in a settleable state
	CodeQuoteInvalid
	// CodeUnauthorized The caller does not own the referenced quote
	CodeUnauthorized
	// CodeAlreadySettled A settlement already references the quote
	CodeAlreadySettled
	// CodeInvalidProof The payment proof fails the minimum-shape check
	CodeInvalidProof
	// CodeGasPriceTooHigh The fee estimate exceeds a configured safety cap
	CodeGasPriceTooHigh
	// CodeSigningFailed The signing pipeline aborted (oracle error, validation, recovery id)
	CodeSigningFailed
	// CodeInternal The service failed in an unexpected way
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidAmount:
		return "InvalidAmount"
	case CodeInvalidAddress:
		return "InvalidAddress"
	case CodeUnsupportedChain:
		return "UnsupportedChain"
	case CodeInsufficientReserve:
		return "InsufficientReserve"
	case CodeQuoteNotFound:
		return "QuoteNotFound"
	case CodeQuoteExpired:
		return "QuoteExpired"
	case CodeQuoteInvalid:
		return "QuoteInvalid"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeAlreadySettled:
		return "AlreadySettled"
	case CodeInvalidProof:
		return "InvalidProof"
	case CodeGasPriceTooHigh:
		return "GasPriceTooHigh"
	case CodeSigningFailed:
		return "SigningFailed"
	default:
		return "Internal"
	}
}

// BridgeError carries a machine-matchable code alongside the
// human-readable reason surfaced to callers.
type BridgeError struct {
	Code    Code
	Message string
	Err     error
}

// Error method to comply with error interface
func (err *BridgeError) Error() string {
	if err.Err != nil {
		return err.Message + ": " + err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err *BridgeError) Unwrap() error {
	return err.Err
}

// IsCode checks that provided error is a BridgeError with the desired Code
func IsCode(err error, code Code) bool {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) && bridgeErr.Code == code {
		return true
	}
	return false
}

// CodeOf extracts the code from an error, CodeInternal for foreign errors
func CodeOf(err error) Code {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Code
	}
	return CodeInternal
}

// New returns a BridgeError with the given code and message
func New(code Code, message string) error {
	return &BridgeError{Code: code, Message: message}
}

// Wrap returns a BridgeError wrapping err with the given code and message
func Wrap(code Code, message string, err error) error {
	return &BridgeError{Code: code, Message: message, Err: err}
}

// Internal returns a general internal error
// the message sent to the user is "internal error", err is logged upstream
func Internal(err error) error {
	if err == nil {
		err = errors.New("internal error")
	}
	return &BridgeError{Code: CodeInternal, Message: "internal error", Err: err}
}

// StatusCode returns the HTTP status code for the error code
func (err *BridgeError) StatusCode() int {
	switch err.Code {
	case CodeInvalidAmount, CodeInvalidAddress, CodeInvalidProof:
		return http.StatusBadRequest
	case CodeUnsupportedChain:
		return http.StatusUnprocessableEntity
	case CodeInsufficientReserve:
		return http.StatusServiceUnavailable
	case CodeQuoteNotFound:
		return http.StatusNotFound
	case CodeQuoteExpired, CodeQuoteInvalid:
		return http.StatusGone
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeAlreadySettled:
		return http.StatusConflict
	case CodeGasPriceTooHigh:
		return http.StatusServiceUnavailable
	case CodeSigningFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus maps any error to an HTTP status code
func HTTPStatus(err error) int {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr.StatusCode()
	}
	return http.StatusInternalServerError
}
