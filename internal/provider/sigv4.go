package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// SigV4Client signs each request with AWS Signature Version 4 before
// passing it to the inner client.
type SigV4Client struct {
	inner       HTTPClient
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	service     string
	region      string
	now         func() time.Time
}

// NewSigV4Client creates a signing client for service in region.
func NewSigV4Client(inner HTTPClient, creds aws.CredentialsProvider, service, region string) *SigV4Client {
	return &SigV4Client{
		inner:       inner,
		credentials: creds,
		signer:      v4.NewSigner(),
		service:     service,
		region:      region,
		now:         time.Now,
	}
}

// NewAWSSigningClient resolves credentials from the default AWS chain
// (environment, shared config, instance role) and returns a SigV4Client.
func NewAWSSigningClient(ctx context.Context, inner HTTPClient, service, region string) (*SigV4Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSigV4Client(inner, cfg.Credentials, service, region), nil
}

// Do signs req and sends it through the inner client.
func (c *SigV4Client) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	creds, err := c.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve aws credentials: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	sum := sha256.Sum256(req.Body)
	if err := c.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), c.service, c.region, c.now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	signed := &HTTPRequest{
		Method:  req.Method,
		URL:     req.URL,
		Headers: make(map[string]string, len(httpReq.Header)),
		Body:    req.Body,
	}
	for k := range httpReq.Header {
		signed.Headers[k] = httpReq.Header.Get(k)
	}
	return c.inner.Do(ctx, signed)
}
