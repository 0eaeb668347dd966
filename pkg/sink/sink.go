// Package sink persists fetched records: as a flat JSON file, as a
// transactional parquet table deduplicated by primary key, or into SQLite.
package sink

import (
	"context"
	"fmt"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	recordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_sink_records_written_total",
		Help: "Total records written by sink and table",
	}, []string{"sink", "table"})

	recordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_sink_records_skipped_total",
		Help: "Total records skipped as duplicates by sink and table",
	}, []string{"sink", "table"})

	recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_sink_records_dropped_total",
		Help: "Total records dropped by validation by sink and table",
	}, []string{"sink", "table"})
)

// Sink consumes the projected records of one table run.
type Sink interface {
	Name() string
	Write(ctx context.Context, table *config.Table, batch record.Batch) (Result, error)
}

// Result summarises one Write.
type Result struct {
	Sink     string
	Location string
	Written  int
	Skipped  int
	Dropped  int
	Version  int64
}

func (r Result) observe(table string) {
	recordsWritten.WithLabelValues(r.Sink, table).Add(float64(r.Written))
	recordsSkipped.WithLabelValues(r.Sink, table).Add(float64(r.Skipped))
	recordsDropped.WithLabelValues(r.Sink, table).Add(float64(r.Dropped))
}

// compile returns the table's declared columns, checking that the primary
// key is one of them.
func compile(t *config.Table, sinkName string) (*schema.Table, error) {
	if len(t.Schema) == 0 {
		return nil, &config.Error{Table: t.Table, Field: "schema", Reason: sinkName + " sink requires declared columns"}
	}
	sch, err := schema.New(t.Schema)
	if err != nil {
		return nil, &config.Error{Table: t.Table, Field: "schema", Reason: err.Error()}
	}
	if !sch.Has(t.PrimaryKey) {
		return nil, &config.Error{Table: t.Table, Field: "primary_key", Reason: fmt.Sprintf("column %q is not declared", t.PrimaryKey)}
	}
	return sch, nil
}

// typedRows converts records to rows, dropping and logging the invalid ones.
func typedRows(sch *schema.Table, batch record.Batch, logger zerolog.Logger) (rows []any, dropped int) {
	rows = make([]any, 0, len(batch))
	for i, rec := range batch {
		row, err := sch.Row(rec)
		if err != nil {
			dropped++
			logger.Warn().Err(err).Int("index", i).Msg("Dropping invalid record")
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped
}

// keyOf renders a primary key value for comparison.
func keyOf(sch *schema.Table, row any, column string) (string, bool) {
	v := sch.Value(row, column)
	if v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}
