package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the user-facing category of a chat API failure.
type ErrorKind string

const (
	ErrorInvalidCredential ErrorKind = "invalid_credential"
	ErrorRateLimited       ErrorKind = "rate_limited"
	ErrorQuotaExhausted    ErrorKind = "quota_exhausted"
	ErrorOther             ErrorKind = "other"
)

// APIError is a failure reported by the chat API.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// UserMessage is the text shown in the popup for this failure.
func (e *APIError) UserMessage() string {
	switch e.Kind {
	case ErrorInvalidCredential:
		return "Invalid API key. Please check your API key in settings."
	case ErrorRateLimited:
		return "Rate limit exceeded. Please wait a moment and try again."
	case ErrorQuotaExhausted:
		return "API quota exhausted. Please check your plan and billing details."
	default:
		if e.Message == "" {
			return "API request failed"
		}
		return "API request failed: " + e.Message
	}
}

// Classify maps an HTTP status and the API's error code and message to a
// category.
func Classify(status int, code, message string) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return ErrorInvalidCredential
	case http.StatusTooManyRequests:
		if code == "insufficient_quota" || strings.Contains(strings.ToLower(message), "quota") {
			return ErrorQuotaExhausted
		}
		return ErrorRateLimited
	default:
		return ErrorOther
	}
}

// NewAPIError builds a classified APIError.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Kind: Classify(status, code, message), StatusCode: status, Message: message}
}

// KindOf returns the category of err, ErrorOther for non-API errors.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorOther
}
