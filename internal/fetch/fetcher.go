// Package fetch retrieves pages over HTTP with caller-supplied headers and
// decodes response bodies according to the charset advertised by the server.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Config controls fetcher transport behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Page is one fetched HTTP page with its body decoded to UTF-8.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Fetcher performs GET/POST requests through a shared Colly collector. All
// requests issued by one Fetcher share a cookie jar, which keeps the
// authenticated edX session alive across calls.
type Fetcher struct {
	base   *colly.Collector
	logger *zap.Logger
}

type fetchResult struct {
	page Page
	err  error
}

// New constructs a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{base: base, logger: logger}, nil
}

// Get retrieves rawURL with the supplied headers.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (Page, error) {
	return f.do(ctx, rawURL, headers, nil)
}

// GetJSON retrieves rawURL and unmarshals its body into v. A body that is not
// valid JSON is an error.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, headers map[string]string, v any) error {
	page, err := f.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(page.Body, v); err != nil {
		return fmt.Errorf("parse json from %s: %w", rawURL, err)
	}
	return nil
}

// PostForm sends a form-encoded POST to rawURL with the supplied headers.
func (f *Fetcher) PostForm(ctx context.Context, rawURL string, form, headers map[string]string) (Page, error) {
	return f.do(ctx, rawURL, headers, form)
}

// Cookies returns the cookies the shared jar holds for rawURL.
func (f *Fetcher) Cookies(rawURL string) []*http.Cookie {
	return f.base.Cookies(rawURL)
}

func (f *Fetcher) do(ctx context.Context, rawURL string, headers, form map[string]string) (Page, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		respHeaders := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				respHeaders[k] = cp
			}
		}
		body, err := decodeBody(r.Body, respHeaders.Get("Content-Type"))
		if err != nil {
			send(fetchResult{err: fmt.Errorf("decode body of %s: %w", rawURL, err)})
			return
		}
		send(fetchResult{page: Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    respHeaders,
			Body:       body,
		}})
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown fetch error")
		}
		send(fetchResult{err: err})
	})

	var err error
	if form != nil {
		err = collector.Post(rawURL, form)
	} else {
		err = collector.Visit(rawURL)
	}
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if cerr := ctx.Err(); cerr != nil {
			return Page{}, cerr
		}
		if res.err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, res.err)
		}
		return res.page, nil
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
}

// decodeBody converts raw bytes to UTF-8. When the Content-Type header names a
// charset the transport has already transcoded the body, so it passes through
// unchanged; otherwise the charset is sniffed from the content itself (BOM,
// meta tags) with UTF-8 as the fallback.
func decodeBody(raw []byte, contentType string) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if _, ok := params["charset"]; ok {
			return raw, nil
		}
	}
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		// Unknown charset label; treat the body as UTF-8.
		return raw, nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("transcode body: %w", err)
	}
	return decoded, nil
}
