package ctxhttpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const DefaultTimeout = time.Second * 30

var defaultClient = &http.Client{Timeout: DefaultTimeout}

// context registration

var httpClientKey int

func WithHTTPClient(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, &httpClientKey, httpClient)
}

// GetHTTPClient returns the client registered on ctx, or a shared client with
// DefaultTimeout when there isn't one.
func GetHTTPClient(ctx context.Context) *http.Client {
	if v, ok := ctx.Value(&httpClientKey).(*http.Client); ok && v != nil {
		return v
	}

	return defaultClient
}

// middleware

func Register(httpClient *http.Client) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithHTTPClient(r.Context(), httpClient)))
	}
}

// main interface

type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// Get fetches u with the context's client. Anything other than a 200 is a
// *StatusError and the body is closed; otherwise the caller must close it.
func Get(ctx context.Context, u string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ctxhttpclient.Get: %w", err)
	}

	for k, v := range header {
		req.Header[k] = v
	}

	res, err := GetHTTPClient(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("ctxhttpclient.Get: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("ctxhttpclient.Get: %w", &StatusError{URL: u, Code: res.StatusCode})
	}

	return res, nil
}
