// Package provider sends email through an SMTP relay or an ESP HTTP API and
// classifies failures as permanent (the recipient will never accept this
// message) or transient (try again later).
package provider

import (
	"context"
	"time"
)

// Provider sends one message through a transport.
type Provider interface {
	Send(ctx context.Context, msg *Message) (*DeliveryResult, error)
	// GetName returns the transport identifier, e.g. "sendgrid" or "smtp".
	GetName() string
	HealthCheck(ctx context.Context) error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPRequest represents an outgoing HTTP request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse represents an HTTP response from a provider API.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Message is a single-recipient newsletter email.
type Message struct {
	ID       string
	From     string
	To       []string
	Subject  string
	Headers  map[string]string
	TextBody string
	HTMLBody string
}

// DeliveryResult contains the outcome of a delivery attempt.
type DeliveryResult struct {
	ProviderMessageID string
	Status            DeliveryStatus
	Timestamp         time.Time
	Metadata          map[string]string
}

// DeliveryStatus represents the outcome of a delivery.
type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
	StatusBounced DeliveryStatus = "bounced"
)
