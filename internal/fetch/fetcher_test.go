package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(Config{UserAgent: "edx-crawler-test", Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestGetSendsCallerHeaders(t *testing.T) {
	t.Parallel()

	var gotToken, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-CSRFToken")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Get(context.Background(), srv.URL, map[string]string{"X-CSRFToken": "tok123"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "tok123", gotToken)
	require.Equal(t, "edx-crawler-test", gotUA)
	require.Equal(t, "<html>ok</html>", string(page.Body))
}

func TestGetDecodesAdvertisedCharset(t *testing.T) {
	t.Parallel()

	// "café" in ISO-8859-1: the é is a single 0xE9 byte.
	latin1 := []byte{'c', 'a', 'f', 0xE9}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write(latin1)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "café", string(page.Body))
}

func TestGetSniffsMetaCharset(t *testing.T) {
	t.Parallel()

	// No charset in the header, so the transport leaves the bytes alone and
	// the decoder must pick the encoding up from the meta tag.
	body := append([]byte(`<html><head><meta charset="iso-8859-1"></head><body>caf`), 0xE9)
	body = append(body, []byte(`</body></html>`)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Contains(t, string(page.Body), "café")
}

func TestDecodeBodySkipsAdvertisedCharset(t *testing.T) {
	t.Parallel()

	// Already UTF-8 on arrival; an advertised charset must not trigger a
	// second conversion.
	utf8Body := []byte("caf\xc3\xa9")
	decoded, err := decodeBody(utf8Body, "text/plain; charset=iso-8859-1")
	require.NoError(t, err)
	require.Equal(t, "café", string(decoded))
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/bad" {
			_, _ = w.Write([]byte("<html>not json</html>"))
			return
		}
		_, _ = w.Write([]byte(`{"success": true, "value": "ok"}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t)

	var resp struct {
		Success bool   `json:"success"`
		Value   string `json:"value"`
	}
	require.NoError(t, f.GetJSON(context.Background(), srv.URL, nil, &resp))
	require.True(t, resp.Success)
	require.Equal(t, "ok", resp.Value)

	err := f.GetJSON(context.Background(), srv.URL+"/bad", nil, &resp)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse json")
}

func TestGetReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
}

func TestCookiesPersistAcrossRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("csrftoken"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "abc", Path: "/"})
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	var found bool
	for _, c := range f.Cookies(srv.URL) {
		if c.Name == "csrftoken" && c.Value == "abc" {
			found = true
		}
	}
	require.True(t, found, "expected csrftoken cookie in shared jar")
}
