package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError is a transport rejection with a retry classification.
type ProviderError struct {
	Provider string
	// StatusCode is the HTTP status or SMTP reply code.
	StatusCode int
	Message    string
	// Permanent means resending the same message will never succeed.
	Permanent bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, e.Message)
}

// IsPermanent reports whether err is a ProviderError marked permanent.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}

// IsTransient reports whether err may succeed on retry. Errors that carry
// no classification count as transient so a delivery is never dropped on
// an unknown failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}

// ClassifyHTTPError maps an ESP API response to a ProviderError. It returns
// nil for 2xx.
func ClassifyHTTPError(providerName string, statusCode int, body string) *ProviderError {
	pe := &ProviderError{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == 400:
		pe.Permanent = containsPermanentIndicator(body)

	// Credential and endpoint problems are fixed by configuration, after
	// which the same message goes through.
	case statusCode == 401, statusCode == 403, statusCode == 404:
		pe.Permanent = false

	case statusCode == 408, statusCode == 429:
		pe.Permanent = false

	// Payload rejections describe the issue content, which is the same for
	// every recipient; dropping would lose the whole issue.
	case statusCode == 413, statusCode == 422:
		pe.Permanent = false

	case statusCode >= 500:
		pe.Permanent = false

	default:
		pe.Permanent = statusCode >= 400 && statusCode < 500
	}

	return pe
}

// ClassifySMTPError maps an SMTP reply to a ProviderError: 5yz replies are
// permanent, 4yz replies are transient.
func ClassifySMTPError(code int, message string) *ProviderError {
	if code < 400 {
		return nil
	}
	return &ProviderError{
		Provider:   "smtp",
		StatusCode: code,
		Message:    message,
		Permanent:  code >= 500,
	}
}

func containsPermanentIndicator(body string) bool {
	return containsAny(body,
		"invalid recipient",
		"invalid email",
		"does not exist",
		"mailbox not found",
		"recipient rejected",
		"invalid address",
	)
}

func containsAny(body string, patterns ...string) bool {
	lower := strings.ToLower(body)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
