// Package testutil provides a mock of the open-data API for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Link is an entry of the API's links array.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// MockAPI is a configurable mock API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	prefixes map[string]http.HandlerFunc
	failures map[string][]int

	counts   map[string]int
	requests []string
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
		prefixes: make(map[string]http.HandlerFunc),
		failures: make(map[string][]int),
		counts:   make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.counts[r.URL.Path]++
		m.requests = append(m.requests, r.URL.RequestURI())

		// injected failures are consumed before any handler runs
		if queue := m.failures[r.URL.Path]; len(queue) > 0 {
			status := queue[0]
			m.failures[r.URL.Path] = queue[1:]
			m.mu.Unlock()
			w.WriteHeader(status)
			return
		}

		handler, ok := m.handlers[r.URL.Path]
		if !ok {
			handler, ok = m.prefixHandler(r.URL.Path)
		}
		m.mu.Unlock()

		if ok {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return m
}

func (m *MockAPI) prefixHandler(path string) (http.HandlerFunc, bool) {
	best := ""
	for prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, false
	}
	return m.prefixes[best], true
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears request tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.requests = nil
}

// SetHandler sets a custom handler for an exact path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetPrefixHandler sets a handler for every path under prefix. Exact
// handlers take precedence.
func (m *MockAPI) SetPrefixHandler(prefix string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes[prefix] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailNext makes the next requests to path fail with the given statuses,
// one status per request, before the configured handler is reached.
func (m *MockAPI) FailNext(path string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], statuses...)
}

// SetLinkedPages serves pages under the next-link convention. The page is
// selected by the "pagina" query parameter (default 1); every page but the
// last carries a rel=next link to the following one.
func (m *MockAPI) SetLinkedPages(path, key string, pages [][]map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page := intParam(r, "pagina", 1)
		if page < 1 || page > len(pages) {
			writeJSON(w, map[string]any{key: []any{}, "links": []Link{}})
			return
		}

		links := []Link{{Rel: "self", Href: m.pageURL(r, page)}}
		if page < len(pages) {
			links = append(links, Link{Rel: "next", Href: m.pageURL(r, page+1)})
		}
		links = append(links, Link{Rel: "first", Href: m.pageURL(r, 1)})

		writeJSON(w, map[string]any{key: pages[page-1], "links": links})
	})
}

// SetCountedPages serves total generated records (ids 1..total) under the
// page-counter convention using pageParam and sizeParam.
func (m *MockAPI) SetCountedPages(path, key string, total int, pageParam, sizeParam string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page := intParam(r, pageParam, 1)
		size := intParam(r, sizeParam, 15)

		start := (page - 1) * size
		records := make([]map[string]any, 0, size)
		for i := start; i < start+size && i < total; i++ {
			records = append(records, map[string]any{"id": i + 1, "nome": fmt.Sprintf("registro %d", i+1)})
		}

		if key == "" {
			writeJSON(w, records)
			return
		}
		writeJSON(w, map[string]any{key: records})
	})
}

// SetDetails serves one record per id under prefix (prefix + id). Ids in
// failing answer 500 every time.
func (m *MockAPI) SetDetails(prefix, key string, records map[string]map[string]any, failing ...string) {
	bad := make(map[string]bool, len(failing))
	for _, id := range failing {
		bad[id] = true
	}

	m.SetPrefixHandler(prefix, func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if bad[id] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rec, ok := records[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if key == "" {
			writeJSON(w, rec)
			return
		}
		writeJSON(w, map[string]any{key: rec, "links": []Link{{Rel: "self", Href: m.URL() + r.URL.Path}}})
	})
}

// RequestCount returns the number of requests made to path.
func (m *MockAPI) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

// TotalRequests returns the number of requests made to the server.
func (m *MockAPI) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the request URIs in arrival order.
func (m *MockAPI) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

func (m *MockAPI) pageURL(r *http.Request, page int) string {
	q := r.URL.Query()
	q.Set("pagina", strconv.Itoa(page))
	return m.URL() + r.URL.Path + "?" + q.Encode()
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
