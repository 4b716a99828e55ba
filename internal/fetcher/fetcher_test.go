package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFetcher struct {
	name string
	urls []string
}

func (r *recordingFetcher) Download(_ context.Context, rawURL string, _ http.Header) (io.ReadCloser, error) {
	r.urls = append(r.urls, rawURL)
	return io.NopCloser(strings.NewReader(r.name)), nil
}

func TestMulti_RoutesByScheme(t *testing.T) {
	h := &recordingFetcher{name: "http"}
	f := &recordingFetcher{name: "ftp"}
	m := &Multi{HTTP: h, FTP: f}

	for _, u := range []string{"http://a/x", "https://b/y", "ftp://c/z"} {
		rc, err := m.Download(context.Background(), u, nil)
		require.NoError(t, err)
		rc.Close()
	}

	assert.Equal(t, []string{"http://a/x", "https://b/y"}, h.urls)
	assert.Equal(t, []string{"ftp://c/z"}, f.urls)
}

func TestMulti_Errors(t *testing.T) {
	m := &Multi{}

	_, err := m.Download(context.Background(), "s3://bucket/key", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")

	_, err = m.Download(context.Background(), "ftp://host/file", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ftp fetcher")

	_, err = m.Download(context.Background(), "https://host/file", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no http fetcher")
}
