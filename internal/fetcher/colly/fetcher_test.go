package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/paper-harvester/internal/harvest/flatlist"
)

const listingPage = `<html><body>
<a href="/files/2019/III-Sem/Chemical/Thermodynamics-CHE-2104.pdf">Thermodynamics</a>
<a href="files/2023/IV-Sem/Civil/Surveying.pdf"> Surveying </a>
<a href="/files/2019/III-Sem/Chemical/Thermodynamics-CHE-2104.pdf">duplicate</a>
<a href="https://cdn.example.com/archive/Old.PDF">Old</a>
<a href="/about.html">About</a>
<a href="#top">Top</a>
</body></html>`

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/qp/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, listingPage)
	})
	mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 fake")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLinksReturnsAbsolutePDFAnchors(t *testing.T) {
	t.Parallel()

	server := newListingServer(t)
	f := New(Config{UserAgent: "test-agent", Timeout: time.Second})

	links, err := f.Links(context.Background(), server.URL+"/qp/")
	if err != nil {
		t.Fatalf("Links returned error: %v", err)
	}
	want := []flatlist.Link{
		{URL: server.URL + "/files/2019/III-Sem/Chemical/Thermodynamics-CHE-2104.pdf", Text: "Thermodynamics"},
		{URL: server.URL + "/qp/files/2023/IV-Sem/Civil/Surveying.pdf", Text: "Surveying"},
		{URL: "https://cdn.example.com/archive/Old.PDF", Text: "Old"},
	}
	if len(links) != len(want) {
		t.Fatalf("expected %d links, got %d: %+v", len(want), len(links), links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("link %d: expected %+v, got %+v", i, want[i], links[i])
		}
	}

	again, err := f.Links(context.Background(), server.URL+"/qp/")
	if err != nil || len(again) != len(want) {
		t.Fatalf("revisit should succeed, got %d links, err %v", len(again), err)
	}
}

func TestLinksFailsOnErrorStatus(t *testing.T) {
	t.Parallel()

	server := newListingServer(t)
	f := New(Config{Timeout: time.Second})

	_, err := f.Links(context.Background(), server.URL+"/missing")
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestDownloadReturnsBody(t *testing.T) {
	t.Parallel()

	server := newListingServer(t)
	f := New(Config{Timeout: time.Second})

	body, err := f.Download(context.Background(), server.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if string(body) != "%PDF-1.4 fake" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestDownloadHonorsContext(t *testing.T) {
	t.Parallel()

	server := newListingServer(t)
	f := New(Config{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Download(ctx, server.URL+"/slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConfigureLinkHooksRecordsError(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	hooks := &stubHooks{}
	var (
		links    []flatlist.Link
		fetchErr error
	)
	f.configureLinkHooks(hooks, map[string]struct{}{}, &links, &fetchErr)
	if hooks.selector != documentSelector || hooks.onHTML == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	if fetchErr == nil || fetchErr.Error() != "status 502: Bad Gateway" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected raw error, got %v", fetchErr)
	}
}

type stubHooks struct {
	selector string
	onHTML   colly.HTMLCallback
	onError  colly.ErrorCallback
}

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.selector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
