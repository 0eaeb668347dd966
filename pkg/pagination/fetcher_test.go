package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pcastr/monitor-politico/internal/testutil"
	"github.com/pcastr/monitor-politico/pkg/client"
	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/urlbuilder"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, maxRetries int) (*client.Client, *[]time.Duration) {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.MaxRetries = maxRetries
	c, err := client.New(cfg, zerolog.Nop())
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	c.SetSleeper(func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	})
	return c, &delays
}

func records(from, to int) []map[string]any {
	out := make([]map[string]any, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, map[string]any{"id": i})
	}
	return out
}

func ids(b record.Batch) []any {
	return b.Values("id")
}

func TestStrategyFor(t *testing.T) {
	tests := map[string]struct {
		pagination *config.Pagination
		want       Strategy
	}{
		"absent":   {nil, Links{}},
		"links":    {&config.Pagination{Type: config.PaginationLinks}, Links{}},
		"none":     {&config.Pagination{Type: config.PaginationNone}, Single{}},
		"page":     {&config.Pagination{Type: config.PaginationPage, PageSize: 100}, PageCounter{PageParam: "pagina", SizeParam: "itens", PageSize: 100, StartPage: 1}},
		"page raw": {&config.Pagination{Type: config.PaginationPage}, PageCounter{PageParam: "pagina", SizeParam: "itens", PageSize: 1000, StartPage: 1}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, StrategyFor(config.Endpoint{Pagination: tc.pagination}))
		})
	}
}

func TestFetchAll_Links(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetLinkedPages("/api/v2/deputados", "dados", [][]map[string]any{records(1, 3), records(4, 6), records(7, 8)})

	c, _ := newClient(t, 5)
	ep := config.Endpoint{BaseURL: api.URL(), URL: "/api/v2/deputados", KeyData: "dados"}

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/api/v2/deputados?ordem=ASC")
	require.NoError(t, err)

	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0}, ids(batch))
	assert.Equal(t, 3, api.TotalRequests(), "exactly one request per page")
}

func TestFetchAll_Links_RetryThenSuccess(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetLinkedPages("/api/v2/partidos", "dados", [][]map[string]any{records(1, 2), records(3, 4)})
	api.FailNext("/api/v2/partidos", http.StatusInternalServerError, http.StatusBadGateway)

	c, delays := newClient(t, 5)
	ep := config.Endpoint{BaseURL: api.URL(), URL: "/api/v2/partidos", KeyData: "dados"}

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/api/v2/partidos")
	require.NoError(t, err)

	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0}, ids(batch), "the failed attempts contribute nothing")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	assert.Equal(t, 4, api.TotalRequests())
}

func TestFetchAll_Links_InteriorFailure(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	api.SetHandler("/api/v2/orgaos/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	// page 1 points at a page that never recovers
	api.SetHandler("/api/v2/orgaos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"dados": [{"id": 1}], "links": [{"rel": "next", "href": "%s/api/v2/orgaos/broken"}]}`, api.URL())
	})

	c, _ := newClient(t, 4)
	ep := config.Endpoint{BaseURL: api.URL(), URL: "/api/v2/orgaos", KeyData: "dados"}

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/api/v2/orgaos")
	require.Error(t, err)
	assert.Nil(t, batch, "no partial data on failure")
	assert.True(t, errors.Is(err, client.ErrRetryExhausted))
	assert.Equal(t, 4, api.RequestCount("/api/v2/orgaos/broken"))
}

func TestFetchAll_Links_Loop(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetHandler("/loop", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"dados": [], "links": [{"rel": "next", "href": "%s/loop"}]}`, api.URL())
	})

	c, _ := newClient(t, 1)
	_, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(),
		config.Endpoint{KeyData: "dados"}, api.URL()+"/loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already fetched")
}

func TestFetchAll_PageCounter(t *testing.T) {
	tests := map[string]struct {
		total        int
		pageSize     int
		wantRequests int
	}{
		"final short page":  {total: 2400, pageSize: 1000, wantRequests: 3},
		"exact multiple":    {total: 200, pageSize: 100, wantRequests: 3},
		"single short page": {total: 5, pageSize: 100, wantRequests: 1},
		"empty collection":  {total: 0, pageSize: 100, wantRequests: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			api := testutil.NewMockAPI()
			defer api.Close()
			api.SetCountedPages("/api/v2/eventos", "dados", tc.total, "pagina", "itens")

			c, _ := newClient(t, 3)
			ep := config.Endpoint{
				BaseURL:    api.URL(),
				URL:        "/api/v2/eventos",
				KeyData:    "dados",
				Pagination: &config.Pagination{Type: config.PaginationPage, PageSize: tc.pageSize},
			}

			batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/api/v2/eventos")
			require.NoError(t, err)
			assert.Len(t, batch, tc.total)
			assert.Equal(t, tc.wantRequests, api.TotalRequests())
		})
	}
}

func TestFetchAll_PageCounter_Params(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetCountedPages("/votacoes", "", 3, "page", "limit")

	c, _ := newClient(t, 1)
	ep := config.Endpoint{
		Pagination: &config.Pagination{Type: config.PaginationPage, PageParam: "page", SizeParam: "limit", PageSize: 2, StartPage: 1},
	}

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/votacoes?ano=2023")
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, ids(batch))
	assert.Equal(t, []string{
		"/votacoes?ano=2023&page=1&limit=2",
		"/votacoes?ano=2023&page=2&limit=2",
	}, api.Requests())
}

func TestFetchAll_PageCounter_KeepsBuiltQuery(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetCountedPages("/api/v2/partidos", "dados", 3, "pagina", "itens")

	c, _ := newClient(t, 1)
	ep := config.Endpoint{
		BaseURL: api.URL(),
		URL:     "/api/v2/partidos",
		KeyData: "dados",
		QueryParameters: []config.QueryParameter{
			{Name: "ordenarPor", Default: "sigla"},
			{Name: "siglaUf", Default: []any{"PB", "SP"}},
			{Name: "ordem", Default: "ASC"},
		},
		Pagination: &config.Pagination{Type: config.PaginationPage, PageSize: 2},
	}
	initial, err := urlbuilder.Build(ep, nil, nil)
	require.NoError(t, err)
	require.Equal(t, api.URL()+"/api/v2/partidos?ordenarPor=sigla&siglaUf=PB,SP&ordem=ASC", initial)

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, initial)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, []string{
		"/api/v2/partidos?ordenarPor=sigla&siglaUf=PB,SP&ordem=ASC&pagina=1&itens=2",
		"/api/v2/partidos?ordenarPor=sigla&siglaUf=PB,SP&ordem=ASC&pagina=2&itens=2",
	}, api.Requests())
}

func TestSetQuery(t *testing.T) {
	tests := map[string]struct {
		url  string
		want string
	}{
		"no query":         {url: "https://h/x", want: "https://h/x?pagina=3&itens=50"},
		"appends in order": {url: "https://h/x?b=2&a=1,2", want: "https://h/x?b=2&a=1,2&pagina=3&itens=50"},
		"replaces in place": {
			url:  "https://h/x?itens=10&ordem=ASC&pagina=1",
			want: "https://h/x?itens=50&ordem=ASC&pagina=3",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := setQuery(tc.url, [2]string{"pagina", "3"}, [2]string{"itens", "50"})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFetchAll_PageCounter_InteriorFailure(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	api.SetHandler("/x", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagina") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[{"id": 1}, {"id": 2}]`)
	})

	c, _ := newClient(t, 2)
	ep := config.Endpoint{Pagination: &config.Pagination{Type: config.PaginationPage, PageSize: 2}}

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/x")
	require.Error(t, err, "exhausted retries are not an empty page")
	assert.Nil(t, batch)
	assert.Contains(t, err.Error(), "page 2")
}

func TestFetchAll_Single(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse("/api/v2/referencias/uf", testutil.MockResponse{
		Body: `{"dados": [{"cod": "PB"}, {"cod": "PE"}], "links": [{"rel": "next", "href": "ignored"}]}`,
	})

	c, _ := newClient(t, 1)
	ep := config.Endpoint{KeyData: "dados", Pagination: &config.Pagination{Type: config.PaginationNone}}

	batch, err := NewFetcher(c, zerolog.Nop()).FetchAll(context.Background(), ep, api.URL()+"/api/v2/referencias/uf")
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, api.TotalRequests())
}

func TestFetchAll_MaxPages(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetCountedPages("/x", "", 100, "pagina", "itens")

	c, _ := newClient(t, 1)
	f := NewFetcher(c, zerolog.Nop())
	f.SetMaxPages(3)

	ep := config.Endpoint{Pagination: &config.Pagination{Type: config.PaginationPage, PageSize: 10}}
	_, err := f.FetchAll(context.Background(), ep, api.URL()+"/x")
	require.Error(t, err)
	assert.Equal(t, 3, api.TotalRequests())
}
