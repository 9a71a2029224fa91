// Package mastodon posts statuses to a Mastodon-compatible server.
package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gomastodon "github.com/mattn/go-mastodon"
)

// ErrRateLimited is returned for HTTP 429 responses. Retries are paced by the
// publisher's fixed retry delay; the server's Retry-After hint is not used.
var ErrRateLimited = errors.New("rate limited")

// APIError is a non-2xx response other than 429.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mastodon: http %d", e.StatusCode)
	}
	return fmt.Sprintf("mastodon: http %d: %s", e.StatusCode, e.Message)
}

// Poster publishes a status and returns its id.
type Poster interface {
	Post(ctx context.Context, body string) (string, error)
}

// Client posts statuses for one account token.
type Client struct {
	api        *gomastodon.Client
	visibility string
}

type Option func(*options)

type options struct {
	http       *http.Client
	visibility string
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.http = hc } }

// WithVisibility sets the status visibility ("public", "unlisted", "private").
func WithVisibility(v string) Option { return func(o *options) { o.visibility = v } }

func New(baseURL, token string, opts ...Option) *Client {
	o := options{http: &http.Client{Timeout: 30 * time.Second}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.http == nil {
		o.http = &http.Client{Timeout: 30 * time.Second}
	}

	api := gomastodon.NewClient(&gomastodon.Config{
		Server:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		AccessToken: token,
	})
	hc := *o.http
	hc.Transport = &idempotentTransport{next: o.http.Transport}
	api.Client = hc
	return &Client{api: api, visibility: o.visibility}
}

// Post creates a status. A 429 yields an error matching ErrRateLimited.
func (c *Client) Post(ctx context.Context, body string) (string, error) {
	ctx = withIdempotencyKey(ctx, idempotencyKey(body))
	st, err := c.api.PostStatus(ctx, &gomastodon.Toot{Status: body, Visibility: c.visibility})
	if err != nil {
		return "", mapError(err)
	}
	if st == nil || st.ID == "" {
		return "", errors.New("mastodon: response without status id")
	}
	return string(st.ID), nil
}

func mapError(err error) error {
	var ae *gomastodon.APIError
	if !errors.As(err, &ae) {
		return err
	}
	if ae.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("mastodon: %w", ErrRateLimited)
	}
	return &APIError{StatusCode: ae.StatusCode, Message: ae.Message}
}
