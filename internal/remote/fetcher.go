// Package remote fetches catalog documents, model artifacts and images over HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when the remote answers 404.
var ErrNotFound = errors.New("resource not found")

// StatusError is a non-success HTTP answer.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Fetcher retrieves the full body of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	UserAgent string
	// Timeout bounds a single fetch; zero means no bound beyond ctx.
	Timeout time.Duration
	// MaxBytes caps the body size; zero means unlimited.
	MaxBytes        int64
	MaxConnsPerHost int
}

type HTTPFetcher struct {
	client  *http.Client
	options Options
}

func NewHTTPFetcher(options Options) *HTTPFetcher {
	conns := options.MaxConnsPerHost
	if conns < 4 {
		conns = 4
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     conns,
		MaxIdleConnsPerHost: conns,
		MaxIdleConns:        conns * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client:  &http.Client{Transport: transport},
		options: options,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.options.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.options.UserAgent != "" {
		req.Header.Set("User-Agent", f.options.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &StatusError{URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var body io.Reader = resp.Body
	if f.options.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.options.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	if f.options.MaxBytes > 0 && int64(len(data)) > f.options.MaxBytes {
		return nil, fmt.Errorf("body of %s exceeds %d bytes", url, f.options.MaxBytes)
	}
	return data, nil
}

// Expand substitutes value for placeholder in template.
func Expand(template, placeholder, value string) string {
	return strings.ReplaceAll(template, placeholder, value)
}
