package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"
)

const (
	// DefaultTimeout bounds a single fetch including body read.
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

// Source fetches and parses a feed.
type Source interface {
	Fetch(ctx context.Context, url string) (*Feed, error)
}

// HTTPSource reads feeds over HTTP(S) with a shared, pooled transport.
type HTTPSource struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewHTTPSource builds a Source. A zero timeout uses DefaultTimeout.
func NewHTTPSource(timeout time.Duration, userAgent string) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &HTTPSource{
		client:    &http.Client{Transport: tr},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Client exposes the underlying HTTP client for sibling fetchers (page scraping).
func (s *HTTPSource) Client() *http.Client { return s.client }

// Fetch downloads url and parses it.
func (s *HTTPSource) Fetch(ctx context.Context, url string) (*Feed, error) {
	raw, err := s.get(ctx, url, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, err
	}
	return Parse(raw, url)
}

// FetchPage downloads an HTML page and returns its body decoded to UTF-8.
func (s *HTTPSource) FetchPage(ctx context.Context, url string) (io.Reader, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.do(cctx, url, "text/html, application/xhtml+xml;q=0.9, */*;q=0.5")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	r, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("charset: %w", err)}
	}
	return r, nil
}

func (s *HTTPSource) get(ctx context.Context, url, accept string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.do(cctx, url, accept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return raw, nil
}

func (s *HTTPSource) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", accept)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return resp, nil
}
