package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_pages_fetched_total",
		Help: "Total pages fetched by pagination convention",
	}, []string{"convention"})

	recordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_fetched_total",
		Help: "Total records fetched by pagination convention",
	}, []string{"convention"})
)

// DefaultMaxPages bounds a single fetch.
const DefaultMaxPages = 10000

// Getter fetches a URL and hands the body to decode, retrying failed
// attempts. *client.Client implements it.
type Getter interface {
	GetJSON(ctx context.Context, url string, decode func([]byte) error) error
}

// Fetcher walks every page of an endpoint.
type Fetcher struct {
	getter   Getter
	logger   zerolog.Logger
	maxPages int
}

// NewFetcher creates a fetcher that issues requests through g.
func NewFetcher(g Getter, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		getter:   g,
		logger:   logger.With().Str("component", "pagination").Logger(),
		maxPages: DefaultMaxPages,
	}
}

// SetMaxPages overrides the page bound.
func (f *Fetcher) SetMaxPages(n int) {
	if n > 0 {
		f.maxPages = n
	}
}

// FetchAll fetches every page starting at initialURL and returns the
// records in page order. Any page that fails after retries fails the call
// and no records are returned.
func (f *Fetcher) FetchAll(ctx context.Context, ep config.Endpoint, initialURL string) (record.Batch, error) {
	strategy := StrategyFor(ep)
	start := time.Now()

	var (
		batch record.Batch
		pages int
		err   error
	)
	switch s := strategy.(type) {
	case Links:
		batch, pages, err = f.followLinks(ctx, ep, initialURL)
	case PageCounter:
		batch, pages, err = f.countPages(ctx, ep, s, initialURL)
	case Single:
		var p page
		p, err = f.fetchPage(ctx, ep, initialURL, s)
		batch, pages = p.records, 1
	default:
		err = fmt.Errorf("unsupported pagination strategy %T", strategy)
	}
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("url", initialURL).
		Str("convention", strategy.Name()).
		Int("pages", pages).
		Int("records", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return batch, nil
}

func (f *Fetcher) followLinks(ctx context.Context, ep config.Endpoint, initialURL string) (record.Batch, int, error) {
	var batch record.Batch
	seen := make(map[string]bool)

	current := initialURL
	for n := 1; ; n++ {
		if n > f.maxPages {
			return nil, 0, fmt.Errorf("fetch %s: more than %d pages", initialURL, f.maxPages)
		}
		seen[current] = true

		p, err := f.fetchPage(ctx, ep, current, Links{})
		if err != nil {
			return nil, 0, fmt.Errorf("page %d: %w", n, err)
		}
		batch = append(batch, p.records...)

		if p.next == "" {
			return batch, n, nil
		}
		if seen[p.next] {
			return nil, 0, fmt.Errorf("page %d: next link %s was already fetched", n, p.next)
		}

		f.logger.Debug().Int("page", n).Str("next", p.next).Msg("Following next link")
		current = p.next
	}
}

func (f *Fetcher) countPages(ctx context.Context, ep config.Endpoint, s PageCounter, initialURL string) (record.Batch, int, error) {
	if _, err := url.Parse(initialURL); err != nil {
		return nil, 0, fmt.Errorf("parse url %s: %w", initialURL, err)
	}

	var batch record.Batch
	for n := 0; ; n++ {
		if n >= f.maxPages {
			return nil, 0, fmt.Errorf("fetch %s: more than %d pages", initialURL, f.maxPages)
		}

		number := s.StartPage + n
		pageURL := setQuery(initialURL,
			[2]string{s.PageParam, strconv.Itoa(number)},
			[2]string{s.SizeParam, strconv.Itoa(s.PageSize)},
		)

		p, err := f.fetchPage(ctx, ep, pageURL, s)
		if err != nil {
			return nil, 0, fmt.Errorf("page %d: %w", number, err)
		}
		batch = append(batch, p.records...)

		// a short page, including an empty one, is the last
		if len(p.records) < s.PageSize {
			return batch, n + 1, nil
		}
	}
}

// setQuery sets each name=value pair on rawURL. A pair whose name is
// already in the query replaces it in place, the others are appended. The
// rest of the query is kept byte for byte.
func setQuery(rawURL string, pairs ...[2]string) string {
	base, query, _ := strings.Cut(rawURL, "?")

	var parts []string
	if query != "" {
		parts = strings.Split(query, "&")
	}
	for _, pair := range pairs {
		kv := url.QueryEscape(pair[0]) + "=" + url.QueryEscape(pair[1])
		replaced := false
		for i, part := range parts {
			key, _, _ := strings.Cut(part, "=")
			if k, err := url.QueryUnescape(key); err == nil && k == pair[0] {
				parts[i] = kv
				replaced = true
			}
		}
		if !replaced {
			parts = append(parts, kv)
		}
	}
	return base + "?" + strings.Join(parts, "&")
}

func (f *Fetcher) fetchPage(ctx context.Context, ep config.Endpoint, pageURL string, s Strategy) (page, error) {
	var p page
	err := f.getter.GetJSON(ctx, pageURL, func(body []byte) error {
		decoded, err := decodePage(body, ep.KeyData)
		if err != nil {
			return err
		}
		p = decoded
		return nil
	})
	if err != nil {
		return page{}, err
	}

	pagesFetched.WithLabelValues(s.Name()).Inc()
	recordsFetched.WithLabelValues(s.Name()).Add(float64(len(p.records)))
	return p, nil
}
