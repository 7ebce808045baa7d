// Package main provides a standalone CLI for exercising the admin API. It
// mints an access token with the configured signing key and publishes a
// newsletter issue, optionally repeating the request with the same
// idempotency key to check that retries replay instead of re-sending.
//
// Usage:
//
//	publish-client --title "Weekly #12" --text "Hello" --html "<p>Hello</p>"
//	publish-client --key launch-1 --count 5 --rate 2
//	publish-client --token-only --role viewer
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/newsletter/internal/auth"
	"github.com/sungwon/newsletter/internal/config"
)

type options struct {
	configDir string
	baseURL   string
	owner     string
	role      string
	tokenOnly bool
	key       string
	title     string
	text      string
	html      string
	count     int
	rate      float64
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	owner := uuid.New()
	if opts.owner != "" {
		owner, err = uuid.Parse(opts.owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: --owner must be a UUID: %v\n", err)
			os.Exit(2)
		}
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.Auth.SigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TokenTTL:   cfg.Auth.TokenTTL,
	})
	token, err := jwtService.IssueAccessToken(owner, opts.role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	if opts.tokenOnly {
		fmt.Println(token)
		return
	}

	if opts.key == "" {
		opts.key = uuid.NewString()
	}

	fmt.Printf("Newsletter Publish Client\n")
	fmt.Printf("  Server:   %s\n", opts.baseURL)
	fmt.Printf("  Owner:    %s (%s)\n", owner, opts.role)
	fmt.Printf("  Key:      %s\n", opts.key)
	fmt.Printf("  Count:    %d\n", opts.count)
	if opts.count > 1 {
		fmt.Printf("  Rate:     %.1f requests/sec\n", opts.rate)
	}
	fmt.Println()

	client := &http.Client{
		Timeout: 30 * time.Second,
		// The API answers 303; show it rather than following it.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	interval := time.Duration(0)
	if opts.count > 1 && opts.rate > 0 {
		interval = time.Duration(float64(time.Second) / opts.rate)
	}

	var failCount int
	for i := 0; i < opts.count; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}

		start := time.Now()
		status, location, err := publish(client, opts, token)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			failCount++
			fmt.Printf("  [%d/%d] FAIL (%s): %v\n", i+1, opts.count, elapsed, err)
		case status != http.StatusSeeOther:
			failCount++
			fmt.Printf("  [%d/%d] HTTP %d (%s)\n", i+1, opts.count, status, elapsed)
		default:
			fmt.Printf("  [%d/%d] OK   303 -> %s (%s)\n", i+1, opts.count, location, elapsed)
		}
	}

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configDir, "config", "config", "Directory containing config.yaml")
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "API base URL")
	flag.StringVar(&opts.owner, "owner", "", "Owner UUID for the token subject (random if empty)")
	flag.StringVar(&opts.role, "role", auth.RolePublisher, "Token role: admin, publisher, viewer")
	flag.BoolVar(&opts.tokenOnly, "token-only", false, "Print an access token and exit")
	flag.StringVar(&opts.key, "key", "", "Idempotency key (random if empty)")
	flag.StringVar(&opts.title, "title", "Test Issue", "Issue title")
	flag.StringVar(&opts.text, "text", "This is a test issue.", "Plain text content")
	flag.StringVar(&opts.html, "html", "<p>This is a test issue.</p>", "HTML content")
	flag.IntVar(&opts.count, "count", 1, "Number of requests to send with the same key")
	flag.Float64Var(&opts.rate, "rate", 1, "Requests per second when count > 1")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: publish-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "Publishes a newsletter issue through the admin API.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return opts
}

func publish(client *http.Client, opts options, token string) (int, string, error) {
	form := url.Values{
		"title":           {opts.title},
		"text_content":    {opts.text},
		"html_content":    {opts.html},
		"idempotency_key": {opts.key},
	}

	req, err := http.NewRequest(http.MethodPost,
		strings.TrimSuffix(opts.baseURL, "/")+"/admin/newsletters",
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, resp.Header.Get("Location"), nil
}
