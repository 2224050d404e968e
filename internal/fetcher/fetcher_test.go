package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/models"
)

type fakeBlocklist struct {
	blocked map[string]string
}

func newFakeBlocklist() *fakeBlocklist {
	return &fakeBlocklist{blocked: make(map[string]string)}
}

func (f *fakeBlocklist) Block(domain, reason string) error {
	f.blocked[domain] = reason
	return nil
}

func (f *fakeBlocklist) IsBlocked(domain string) (bool, error) {
	_, ok := f.blocked[domain]
	return ok, nil
}

func (f *fakeBlocklist) List() ([]*models.BlockedDomain, error) {
	var result []*models.BlockedDomain
	for domain, reason := range f.blocked {
		result = append(result, &models.BlockedDomain{Domain: domain, Reason: reason})
	}
	return result, nil
}

func testFetchConfig() *common.FetchConfig {
	return &common.FetchConfig{
		UserAgent:      "test-agent",
		DirectTimeout:  2 * time.Second,
		ResolveTimeout: 2 * time.Second,
		BrowserTimeout: 2 * time.Second,
		Headless:       true,
		MaxBodySize:    1024 * 1024,
	}
}

func TestFetchDirectSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("Expected configured user agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	s := NewService(testFetchConfig(), newFakeBlocklist(), arbor.NewLogger())

	result, err := s.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(string(result.Body), "hello") {
		t.Error("Body not returned")
	}
	if !strings.Contains(result.ContentType, "text/html") {
		t.Errorf("Unexpected content type %q", result.ContentType)
	}
}

func TestFetch404DoesNotFallBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	blocklist := newFakeBlocklist()
	s := NewService(testFetchConfig(), blocklist, arbor.NewLogger())

	_, err := s.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected not_found error")
	}
	if models.KindOf(err) != models.ErrKindNotFound {
		t.Errorf("Expected not_found kind, got %s", models.KindOf(err))
	}
	if models.MessageOf(err) != "Article not found (404)" {
		t.Errorf("Unexpected message %q", models.MessageOf(err))
	}
	if len(blocklist.blocked) != 0 {
		t.Error("404 must never block the host")
	}
}

func TestFetchBlockedHostShortCircuits(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	blocklist := newFakeBlocklist()
	blocklist.Block(models.HostOf(server.URL), "DataDome bot protection")
	s := NewService(testFetchConfig(), blocklist, arbor.NewLogger())

	_, err := s.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected blocked error")
	}
	if models.KindOf(err) != models.ErrKindBlocked {
		t.Errorf("Expected blocked kind, got %s", models.KindOf(err))
	}
	if requests != 0 {
		t.Errorf("Blocked host was fetched %d times", requests)
	}
}

func TestFetchServerErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewService(testFetchConfig(), newFakeBlocklist(), arbor.NewLogger())

	_, err := s.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected transport error")
	}
	if models.KindOf(err) != models.ErrKindTransport {
		t.Errorf("Expected transport kind, got %s", models.KindOf(err))
	}
	if !strings.Contains(models.MessageOf(err), "HTTP 502") {
		t.Errorf("Expected status in message, got %q", models.MessageOf(err))
	}
}

func TestResolveURLPassesThroughOrdinaryURLs(t *testing.T) {
	s := NewService(testFetchConfig(), newFakeBlocklist(), arbor.NewLogger())

	resolved, err := s.ResolveURL(context.Background(), "https://site.example/a")
	if err != nil {
		t.Fatalf("ResolveURL failed: %v", err)
	}
	if resolved != "https://site.example/a" {
		t.Errorf("Ordinary URL must pass through unchanged, got %q", resolved)
	}
}
