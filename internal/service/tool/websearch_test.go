package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testSearch(server *httptest.Server) *Search {
	s := NewSearch(SearchConfig{BaseURL: server.URL + "/?q=", MaxRetries: 3})
	s.retryInterval = time.Millisecond
	return s
}

func args(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return data
}

func TestSearchReturnsCleanText(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`<html><head><script>var hidden = 1;</script></head>
			<body><h1>Library hours</h1><p>Open 8am until midnight.</p></body></html>`))
	}))
	defer server.Close()

	out, err := testSearch(server).Execute(context.Background(), args(t, searchArgs{Query: "library hours"}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotQuery != "library hours" {
		t.Errorf("query forwarded as %q", gotQuery)
	}
	if !strings.Contains(out, "Open 8am until midnight.") {
		t.Errorf("result missing page text: %q", out)
	}
	if strings.Contains(out, "var hidden") {
		t.Errorf("script content leaked into result: %q", out)
	}
}

func TestSearchMarkdownFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Dining</h1><p>Three halls.</p></body></html>`))
	}))
	defer server.Close()

	out, err := testSearch(server).Execute(context.Background(), args(t, searchArgs{Query: "dining", Format: "markdown"}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out, "# Dining") {
		t.Errorf("expected atx heading in markdown, got %q", out)
	}
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`<html><body>recovered</body></html>`))
	}))
	defer server.Close()

	out, err := testSearch(server).Execute(context.Background(), args(t, searchArgs{Query: "x"}))
	if err != nil {
		t.Fatalf("Execute failed after retries: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if !strings.Contains(out, "recovered") {
		t.Errorf("unexpected result %q", out)
	}
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := testSearch(server).Execute(context.Background(), args(t, searchArgs{Query: "x"})); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (client errors are permanent)", got)
	}
}

func TestSearchRejectsBadArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for bad arguments")
	}))
	defer server.Close()
	s := testSearch(server)

	if _, err := s.Execute(context.Background(), args(t, searchArgs{Query: "  "})); err == nil {
		t.Error("expected error for empty query")
	}
	if _, err := s.Execute(context.Background(), args(t, searchArgs{Query: "x", Format: "pdf"})); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := s.Execute(context.Background(), json.RawMessage(`{broken`)); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestSearchTruncatesLongResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + strings.Repeat("word ", 2000) + "</body></html>"))
	}))
	defer server.Close()

	out, err := testSearch(server).Execute(context.Background(), args(t, searchArgs{Query: "x"}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len([]rune(out)) > maxResultRunes+len("\n[result truncated]") {
		t.Errorf("result not truncated, length %d", len([]rune(out)))
	}
	if !strings.HasSuffix(out, "[result truncated]") {
		t.Error("truncated result should carry a marker")
	}
}

func TestRegistryDispatch(t *testing.T) {
	search := NewSearch(SearchConfig{})
	registry := NewRegistry(search)

	if registry.Empty() {
		t.Fatal("registry should not be empty")
	}
	got, err := registry.Get("search_web")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name() != search.Name() {
		t.Errorf("wrong tool returned: %q", got.Name())
	}
	if _, err := registry.Get("nope"); err == nil {
		t.Error("expected error for unknown tool")
	}

	infos := registry.Infos()
	if len(infos) != 1 || infos[0].Name != "search_web" {
		t.Errorf("Infos = %+v", infos)
	}
}
