package pagination

import (
	"context"
	"fmt"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/urlbuilder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var detailFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ingest_detail_failures_total",
	Help: "Total per-id detail requests that failed and were skipped",
})

// DefaultBatchSize is the number of detail requests in flight per batch.
const DefaultBatchSize = 10

// DetailFetcher resolves one detail record per id.
type DetailFetcher struct {
	getter    Getter
	batchSize int
	logger    zerolog.Logger
}

// NewDetailFetcher creates a detail fetcher. A non-positive batchSize uses
// DefaultBatchSize.
func NewDetailFetcher(g Getter, batchSize int, logger zerolog.Logger) *DetailFetcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DetailFetcher{
		getter:    g,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "detail-fetcher").Logger(),
	}
}

// FetchByIDs substitutes each id for the {param} placeholder of the
// endpoint URL and fetches the results in batches. Records come back in id
// order. Failed ids are logged and skipped; only an unresolvable URL
// template or a cancelled context fails the call.
func (d *DetailFetcher) FetchByIDs(ctx context.Context, ep config.Endpoint, param string, ids []any) (record.Batch, error) {
	return d.fetch(ctx, ep, param, ids, "")
}

// FetchByIDsWithKey is FetchByIDs for endpoints whose records do not name
// the id they were fetched for: each record gets its id stored under column.
func (d *DetailFetcher) FetchByIDsWithKey(ctx context.Context, ep config.Endpoint, param, column string, ids []any) (record.Batch, error) {
	return d.fetch(ctx, ep, param, ids, column)
}

func (d *DetailFetcher) fetch(ctx context.Context, ep config.Endpoint, param string, ids []any, column string) (record.Batch, error) {
	urls := make([]string, len(ids))
	for i, id := range ids {
		u, err := urlbuilder.Build(ep, map[string]any{param: id}, nil)
		if err != nil {
			return nil, err
		}
		urls[i] = u
	}

	var (
		out    record.Batch
		failed int
	)
	for start := 0; start < len(urls); start += d.batchSize {
		end := min(start+d.batchSize, len(urls))

		results := make([]record.Batch, end-start)
		errs := make([]error, end-start)

		var g errgroup.Group
		for i := start; i < end; i++ {
			slot := i - start
			target := urls[i]
			g.Go(func() error {
				var p page
				err := d.getter.GetJSON(ctx, target, func(body []byte) error {
					decoded, err := decodePage(body, ep.KeyData)
					if err != nil {
						return err
					}
					p = decoded
					return nil
				})
				if err != nil {
					errs[slot] = err
					return nil
				}
				results[slot] = p.records
				return nil
			})
		}
		_ = g.Wait()

		// join point: the accumulator only grows here
		for i := range results {
			if errs[i] != nil {
				failed++
				detailFailures.Inc()
				d.logger.Warn().
					Err(errs[i]).
					Interface("id", ids[start+i]).
					Msg("Detail request failed, skipping")
				continue
			}
			if column != "" {
				for _, rec := range results[i] {
					rec.Set(column, ids[start+i])
				}
			}
			out = append(out, results[i]...)
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("detail fetch cancelled after %d of %d ids: %w", end, len(ids), err)
		}
	}

	d.logger.Info().
		Int("ids", len(ids)).
		Int("records", len(out)).
		Int("failed", failed).
		Msg("Detail fetch complete")

	return out, nil
}
