package provider

import (
	"context"
	"sync"
)

// fakeProvider implements Provider with configurable results.
type fakeProvider struct {
	name      string
	sendErr   error
	healthErr error

	mu   sync.Mutex
	sent []*Message
}

func (f *fakeProvider) Send(_ context.Context, msg *Message) (*DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &DeliveryResult{ProviderMessageID: "fake-" + msg.ID, Status: StatusSent}, nil
}

func (f *fakeProvider) GetName() string { return f.name }

func (f *fakeProvider) HealthCheck(_ context.Context) error { return f.healthErr }

func (f *fakeProvider) messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.sent...)
}

// recordingHTTPClient returns a canned response and keeps the last request.
type recordingHTTPClient struct {
	resp *HTTPResponse
	err  error

	last *HTTPRequest
}

func (c *recordingHTTPClient) Do(_ context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func newsletterMessage() *Message {
	return &Message{
		ID:       "0f8e@example.com",
		From:     "newsletter@example.com",
		To:       []string{"ursula@example.com"},
		Subject:  "Issue #1",
		TextBody: "plain text body",
		HTMLBody: "<p>html body</p>",
	}
}
