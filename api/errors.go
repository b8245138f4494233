// Package api is the HTTP client for the psdweb backend endpoints.
//
// This file defines sentinel errors and the Error wrapper used to classify
// every backend failure. Callers use errors.Is/errors.As instead of string
// matching on response bodies.
package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend failure classification.
var (
	// ErrNetwork indicates no response was received (connection refused, DNS, timeout).
	ErrNetwork = errors.New("network error")

	// ErrMalformedResponse indicates the response body was not the expected JSON.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRejected indicates the backend answered with success:false or
	// without the required field (e.g. init without uploadId).
	ErrRejected = errors.New("rejected by backend")

	// ErrInvalidSignature indicates the uploaded payload is not a PSD.
	ErrInvalidSignature = errors.New("invalid psd signature")

	// ErrPayloadTooLarge indicates the request exceeded the backend body limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Backend error codes carried in the "error" field of a failure response.
const (
	CodeInvalidSignature = "INVALID_PSD_SIGNATURE"
	CodeSessionNotFound  = "UPLOAD_NOT_FOUND"
	CodeSessionExpired   = "UPLOAD_EXPIRED"
	CodeChunkOutOfOrder  = "CHUNK_OUT_OF_ORDER"
	CodeSizeMismatch     = "SIZE_MISMATCH"
	CodeAlreadyComplete  = "UPLOAD_ALREADY_COMPLETE"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidChunk     = "INVALID_CHUNK"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeConversionFailed = "CONVERSION_FAILED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is a classified backend failure.
// It preserves the original error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g. ErrRejected).
	Kind error
	// Op is the endpoint that failed (e.g. "/api/psd-chunks/append").
	Op string
	// Code is the backend error code, if any.
	Code string
	// Message is the backend's human-readable message, if any.
	Message string
	// Status is the HTTP status code; zero when no response arrived.
	Status int
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Rejected returns a business-failure error for a response that carried
// success:false. The kind is derived from the backend code.
func Rejected(op string, status int, code, message string) *Error {
	return &Error{
		Kind:    classifyCode(code, status),
		Op:      op,
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func networkError(op string, err error) *Error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

func malformed(op string, status int, err error) *Error {
	return &Error{Kind: ErrMalformedResponse, Op: op, Status: status, Err: err}
}

// classifyCode maps a backend code (or bare HTTP status) to a sentinel.
func classifyCode(code string, status int) error {
	switch {
	case code == CodeInvalidSignature:
		return ErrInvalidSignature
	case code == CodePayloadTooLarge, status == 413:
		return ErrPayloadTooLarge
	default:
		return ErrRejected
	}
}

// CodeOf returns the backend error code carried by err, or "".
func CodeOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
