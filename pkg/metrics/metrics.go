// Package metrics exposes the Prometheus registry. Metrics are defined in
// their own packages (client, cache, ratelimit, pagination, sink, ingest)
// through promauto; this package serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ingest_http_requests_total{host, status} (Counter): Requests by host and HTTP status
//   - ingest_http_request_duration_seconds{host} (Histogram): Request duration by host
//   - ingest_http_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - ingest_http_retries_total{error_class} (Counter): Retry attempts by error class
//   - ingest_http_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ingest_http_retry_exhausted_total{error_class} (Counter): Requests that exhausted their attempts
//
// Cache Metrics (pkg/cache):
//   - ingest_cache_hits_total (Counter): Response cache hits
//   - ingest_cache_misses_total (Counter): Response cache misses
//   - ingest_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - ingest_cache_errors_total{operation} (Counter): Cache operation errors
//
// Throttle Metrics (pkg/ratelimit):
//   - ingest_rate_limit_wait_seconds (Histogram): Time spent waiting for a request slot
//   - ingest_rate_limit_pushbacks_total (Counter): Server pushbacks (429/503 with Retry-After)
//
// Fetch Metrics (pkg/pagination):
//   - ingest_pages_fetched_total{convention} (Counter): Pages fetched by pagination convention
//   - ingest_records_fetched_total{convention} (Counter): Records accumulated across pages
//   - ingest_detail_failures_total (Counter): Detail ids skipped after failing
//
// Sink Metrics (pkg/sink):
//   - ingest_sink_records_written_total{sink, table} (Counter)
//   - ingest_sink_records_skipped_total{sink, table} (Counter): Duplicates by primary key
//   - ingest_sink_records_dropped_total{sink, table} (Counter): Records failing column validation
//
// Run Metrics (pkg/ingest):
//   - ingest_table_runs_total{table, status} (Counter): Table runs by status (ok, failed, inactive)
//   - ingest_table_run_duration_seconds{table} (Histogram)
//
// Example Prometheus Queries:
//
//   # Retry rate by class
//   sum by (error_class) (rate(ingest_http_retries_total[5m]))
//
//   # Failed table runs in the last day
//   increase(ingest_table_runs_total{status="failed"}[1d])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ingest_http_request_duration_seconds_bucket[5m]))
