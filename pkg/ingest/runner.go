// Package ingest runs table configurations end to end: build the request
// URL, fetch every page (or every detail record), project the configured
// fields and hand the records to the sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/pagination"
	"github.com/pcastr/monitor-politico/pkg/projection"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/sink"
	"github.com/pcastr/monitor-politico/pkg/urlbuilder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	tableRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_table_runs_total",
		Help: "Total table runs by table and status",
	}, []string{"table", "status"})

	tableRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_table_run_duration_seconds",
		Help:    "Duration of table runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"table"})
)

// Run statuses.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusInactive = "inactive"
)

// Config tunes a Runner.
type Config struct {
	// DetailBatchSize is the number of detail requests in flight at once.
	DetailBatchSize int

	// MaxPages bounds a single paginated fetch.
	MaxPages int
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		DetailBatchSize: pagination.DefaultBatchSize,
		MaxPages:        pagination.DefaultMaxPages,
	}
}

// Result summarises one table run.
type Result struct {
	Table    string
	Status   string
	Fetched  int
	Written  int
	Dropped  int
	Sinks    []sink.Result
	Duration time.Duration
	Err      error
}

// Runner executes table configurations.
type Runner struct {
	loader  *config.Loader
	fetcher *pagination.Fetcher
	details *pagination.DetailFetcher
	sinks   []sink.Sink
	logger  zerolog.Logger
}

// New creates a runner reading configurations through loader, fetching
// through g and writing to every sink in order.
func New(loader *config.Loader, g pagination.Getter, sinks []sink.Sink, cfg Config, logger zerolog.Logger) *Runner {
	fetcher := pagination.NewFetcher(g, logger)
	if cfg.MaxPages > 0 {
		fetcher.SetMaxPages(cfg.MaxPages)
	}

	return &Runner{
		loader:  loader,
		fetcher: fetcher,
		details: pagination.NewDetailFetcher(g, cfg.DetailBatchSize, logger),
		sinks:   sinks,
		logger:  logger.With().Str("component", "runner").Logger(),
	}
}

// RunTable runs the named table. An inactive table is reported with
// StatusInactive and a nil error. Unknown tables, configuration errors and
// terminal fetch or sink errors are returned.
func (r *Runner) RunTable(ctx context.Context, name string) (Result, error) {
	t, err := r.loader.Find(name)
	if err != nil {
		return Result{Table: name, Status: StatusFailed, Err: err}, err
	}
	res := r.run(ctx, t)
	return res, res.Err
}

// RunAll runs every active table in the configuration directory. A failing
// table is logged and reported in its Result; the remaining tables still
// run. The error is non-nil only when no configuration could be listed.
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	tables, errs := r.loader.LoadAll()
	if tables == nil && len(errs) == 1 && errors.Is(errs[0], config.ErrNoConfigFiles) {
		return nil, errs[0]
	}

	results := make([]Result, 0, len(tables)+len(errs))
	for _, err := range errs {
		r.logger.Error().Err(err).Msg("Skipping invalid configuration")
		results = append(results, Result{Status: StatusFailed, Err: err})
	}

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.run(ctx, t)
		if res.Err != nil {
			r.logger.Error().Err(res.Err).Str("table", t.Table).Msg("Table run failed, continuing")
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, t *config.Table) (res Result) {
	logger := r.logger.With().Str("table", t.Table).Logger()
	res = Result{Table: t.Table}

	if !t.Active {
		logger.Info().Msg("Table inactive, skipping")
		res.Status = StatusInactive
		tableRuns.WithLabelValues(t.Table, StatusInactive).Inc()
		return res
	}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		tableRunDuration.WithLabelValues(t.Table).Observe(res.Duration.Seconds())
	}()

	batch, err := r.fetch(ctx, t)
	if err != nil {
		return r.fail(logger, res, err)
	}
	res.Fetched = len(batch)

	batch = projection.Batch(batch, t.PrimaryEndpoint().Fields)

	for _, s := range r.sinks {
		out, err := s.Write(ctx, t, batch)
		if err != nil {
			return r.fail(logger, res, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
		res.Sinks = append(res.Sinks, out)
		res.Written = max(res.Written, out.Written)
		res.Dropped = max(res.Dropped, out.Dropped)
	}

	res.Status = StatusOK
	tableRuns.WithLabelValues(t.Table, StatusOK).Inc()
	logger.Info().
		Int("fetched", res.Fetched).
		Int("written", res.Written).
		Int("dropped", res.Dropped).
		Msg("Table run complete")
	return res
}

func (r *Runner) fail(logger zerolog.Logger, res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = fmt.Errorf("table %s: %w", res.Table, err)
	tableRuns.WithLabelValues(res.Table, StatusFailed).Inc()
	logger.Error().Err(err).Msg("Table run failed")
	return res
}

// fetch returns the table's records: every page of its endpoint, or for a
// detail table one record per key of its parent table.
func (r *Runner) fetch(ctx context.Context, t *config.Table) (record.Batch, error) {
	ep := t.PrimaryEndpoint()

	if t.DependsOn == nil {
		u, err := urlbuilder.Defaults(ep)
		if err != nil {
			return nil, err
		}
		return r.fetcher.FetchAll(ctx, ep, u)
	}

	dep := t.DependsOn
	parent, err := r.loader.Find(dep.Table)
	if err != nil {
		return nil, fmt.Errorf("parent table: %w", err)
	}
	if parent.DependsOn != nil {
		return nil, &config.Error{Table: t.Table, Field: "depends_on", Reason: fmt.Sprintf("parent %q is itself a detail table", dep.Table)}
	}

	parentEP := parent.PrimaryEndpoint()
	u, err := urlbuilder.Defaults(parentEP)
	if err != nil {
		return nil, err
	}
	parents, err := r.fetcher.FetchAll(ctx, parentEP, u)
	if err != nil {
		return nil, fmt.Errorf("parent table %s: %w", dep.Table, err)
	}

	ids := distinct(parents.Values(dep.Key))
	r.logger.Info().
		Str("table", t.Table).
		Str("parent", dep.Table).
		Int("ids", len(ids)).
		Msg("Fetching detail records")

	if dep.Column != "" {
		return r.details.FetchByIDsWithKey(ctx, ep, dep.Param, dep.Column, ids)
	}
	return r.details.FetchByIDs(ctx, ep, dep.Param, ids)
}

// distinct drops repeated values, keeping first occurrences in order.
func distinct(values []any) []any {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		k := fmt.Sprint(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
