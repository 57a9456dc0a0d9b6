package mention

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func previewServer(t *testing.T, body string, contentType string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveOpenGraph(t *testing.T) {
	srv := previewServer(t, `<html><head>
		<title>fallback</title>
		<meta property="og:title" content="OG Title"/>
		<meta property="og:image" content="https://cdn.example.com/pic.png"/>
	</head><body>ignored</body></html>`, "text/html; charset=utf-8")

	r := NewPreviewResolver(2*time.Second, 0)
	p, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, srv.URL, p.URL)
	require.Equal(t, "OG Title", p.Title)
	require.Equal(t, "https://cdn.example.com/pic.png", p.ImageURL)
}

func TestResolveTitleFallback(t *testing.T) {
	srv := previewServer(t, `<html><head><title>Plain Title</title></head><body></body></html>`, "text/html")

	r := NewPreviewResolver(2*time.Second, 0)
	p, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Plain Title", p.Title)
	require.Empty(t, p.ImageURL)
}

func TestResolveRejectsNonHTML(t *testing.T) {
	srv := previewServer(t, `{"not":"html"}`, "application/json")

	r := NewPreviewResolver(2*time.Second, 0)
	_, err := r.Resolve(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestResolveRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	r := NewPreviewResolver(2*time.Second, 0)
	_, err := r.Resolve(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestResolveCapsBodyRead(t *testing.T) {
	// title 在限制之外：解析不到元数据
	huge := `<html><head>` + strings.Repeat("<!-- padding -->", 4096) + `<title>Late</title></head></html>`
	srv := previewServer(t, huge, "text/html")

	r := NewPreviewResolver(2*time.Second, 1024)
	_, err := r.Resolve(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestResolveAllSkipsFailures(t *testing.T) {
	good := previewServer(t, `<html><head><title>Good</title></head></html>`, "text/html")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	r := NewPreviewResolver(2*time.Second, 0)
	got := r.ResolveAll(context.Background(), []string{bad.URL, good.URL})
	require.Len(t, got, 1)
	require.Equal(t, "Good", got[0].Title)
}
