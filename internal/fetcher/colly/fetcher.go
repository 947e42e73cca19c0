// Package collyfetcher fetches listing pages and documents using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/paper-harvester/internal/harvest/flatlist"
)

// documentSelector matches anchors that point at PDF documents.
const documentSelector = `a[href$=".pdf"], a[href$=".PDF"]`

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps downloaded bodies in bytes. Zero means 50 MiB.
	MaxBodySize int
}

// Fetcher implements flatlist.LinkSource and ingest.Downloader using the
// Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 50 << 20
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(&retryTransport{base: newHTTPTransport()})
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Links fetches pageURL and returns every PDF anchor as an absolute URL,
// in document order and without repeats.
func (f *Fetcher) Links(ctx context.Context, pageURL string) ([]flatlist.Link, error) {
	var (
		links    []flatlist.Link
		fetchErr error
	)
	collector := f.collector()
	seen := make(map[string]struct{})
	f.configureLinkHooks(collector, seen, &links, &fetchErr)
	if err := f.runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return nil, err
	}
	return links, nil
}

// Download fetches a document body.
func (f *Fetcher) Download(ctx context.Context, documentURL string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := f.collector()
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = responseError(r, err)
	})
	if err := f.runCollector(ctx, collector, documentURL, &fetchErr); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) collector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.MaxBodySize = f.cfg.MaxBodySize
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureLinkHooks(
	hooks collectorHooks,
	seen map[string]struct{},
	links *[]flatlist.Link,
	fetchErr *error,
) {
	hooks.OnHTML(documentSelector, func(e *colly.HTMLElement) {
		abs := e.Request.AbsoluteURL(e.Attr("href"))
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		*links = append(*links, flatlist.Link{URL: abs, Text: strings.TrimSpace(e.Text)})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = responseError(r, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func responseError(r *colly.Response, err error) error {
	if r != nil && r.StatusCode != 0 {
		return fmt.Errorf("status %d: %w", r.StatusCode, err)
	}
	return err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
