// Package fetcher downloads raw source payloads over HTTP or FTP and parses
// delimited text.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body. header is
	// applied to protocols that support it.
	Download(ctx context.Context, rawURL string, header http.Header) (io.ReadCloser, error)
}

// StatusError reports a non-200 response from an HTTP source.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Multi routes a download to the fetcher registered for the URL scheme.
type Multi struct {
	HTTP Fetcher
	FTP  Fetcher
}

// Download dispatches on the URL scheme.
func (m *Multi) Download(ctx context.Context, rawURL string, header http.Header) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	switch u.Scheme {
	case "http", "https":
		if m.HTTP == nil {
			return nil, eris.New("fetcher: no http fetcher configured")
		}
		return m.HTTP.Download(ctx, rawURL, header)
	case "ftp":
		if m.FTP == nil {
			return nil, eris.New("fetcher: no ftp fetcher configured")
		}
		return m.FTP.Download(ctx, rawURL, header)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}
