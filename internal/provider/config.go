package provider

import (
	"errors"
	"time"
)

// ProviderConfig holds the settings for one transport.
type ProviderConfig struct {
	// Type is one of "smtp", "sendgrid", "ses", "mailgun", "s3", "stdout", "file".
	Type string

	APIKey string
	// Endpoint overrides the default API base URL.
	Endpoint string
	Timeout  time.Duration
	Region   string // ses
	Domain   string // mailgun
	Path     string // file output directory, s3 key prefix
	Bucket   string // s3

	SMTPHost string
	SMTPPort int
	Username string
	Password string
	StartTLS bool
}

const defaultTimeout = 30 * time.Second

// Validate checks the fields the selected type needs and fills defaults.
func (c *ProviderConfig) Validate() error {
	if c.Type == "" {
		return errors.New("provider type is required")
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "smtp":
		if c.SMTPHost == "" {
			return errors.New("smtp: host is required")
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			return errors.New("smtp: port must be between 1 and 65535")
		}
		if c.Username != "" && c.Password == "" {
			return errors.New("smtp: password is required when username is set")
		}
	case "sendgrid":
		if c.APIKey == "" {
			return errors.New("sendgrid: api_key is required")
		}
	case "ses":
		if c.Region == "" && c.Endpoint == "" {
			return errors.New("ses: region or endpoint is required")
		}
	case "mailgun":
		if c.APIKey == "" {
			return errors.New("mailgun: api_key is required")
		}
		if c.Domain == "" {
			return errors.New("mailgun: domain is required")
		}
	case "s3":
		if c.Bucket == "" {
			return errors.New("s3: bucket is required")
		}
	case "stdout", "file":
	default:
		return errors.New("unknown provider type: " + c.Type)
	}

	return nil
}
