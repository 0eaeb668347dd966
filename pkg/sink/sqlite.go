package sink

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/schema"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

var unsafeIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// SQLiteSink writes each table into a SQLite database. Tables with declared
// columns get typed columns; tables without keep the whole record as JSON
// next to its primary key.
type SQLiteSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)

	return &SQLiteSink{db: db, logger: logger.With().Str("sink", "sqlite").Logger()}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// DB exposes the underlying database.
func (s *SQLiteSink) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteSink) Close() error { return s.db.Close() }

// TableName derives the SQL table name from the full table name.
func TableName(t *config.Table) string {
	name := unsafeIdent.ReplaceAllString(t.FullTableName, "_")
	return strings.Trim(name, "_")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Write implements Sink. Rows whose primary key already exists are
// skipped; overwrite mode empties the table first in the same transaction.
func (s *SQLiteSink) Write(ctx context.Context, t *config.Table, batch record.Batch) (Result, error) {
	logger := s.logger.With().Str("table", t.Table).Logger()
	name := TableName(t)
	res := Result{Sink: s.Name(), Location: name}

	var (
		columns []string
		ddl     string
		rows    [][]any
	)
	if len(t.Schema) > 0 {
		sch, err := compile(t, s.Name())
		if err != nil {
			return Result{}, err
		}
		typed, dropped := typedRows(sch, batch, logger)
		res.Dropped = dropped
		columns, ddl = typedDDL(name, sch, t.PrimaryKey)
		for _, row := range typed {
			if _, ok := keyOf(sch, row, t.PrimaryKey); !ok {
				res.Dropped++
				logger.Warn().Str("column", t.PrimaryKey).Msg("Dropping record without primary key")
				continue
			}
			rows = append(rows, sqlValues(sch, row))
		}
	} else {
		columns = []string{t.PrimaryKey, "data"}
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, data TEXT NOT NULL)",
			quote(name), quote(t.PrimaryKey))
		for i, rec := range batch {
			key, ok := rec.Get(t.PrimaryKey)
			if !ok || key == nil {
				res.Dropped++
				logger.Warn().Int("index", i).Str("column", t.PrimaryKey).Msg("Dropping record without primary key")
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return Result{}, fmt.Errorf("encode record %d: %w", i, err)
			}
			rows = append(rows, []any{fmt.Sprint(key), string(data)})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return Result{}, fmt.Errorf("create table %s: %w", name, err)
	}
	if t.WriteMode == config.WriteOverwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quote(name)); err != nil {
			return Result{}, fmt.Errorf("clear table %s: %w", name, err)
		}
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		quote(name), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return Result{}, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, values := range rows {
		r, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return Result{}, fmt.Errorf("insert into %s: %w", name, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Written++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	res.observe(t.Table)
	logger.Info().
		Str("sql_table", name).
		Int("written", res.Written).
		Int("skipped", res.Skipped).
		Int("dropped", res.Dropped).
		Msg("SQLite write complete")
	return res, nil
}

func typedDDL(name string, sch *schema.Table, primaryKey string) ([]string, string) {
	cols := sch.Columns()
	names := make([]string, len(cols))
	defs := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		def := quote(c.Name) + " " + sqlType(sch.Kind(i))
		if !c.Nullable && sch.Kind(i) != schema.KindList {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quote(primaryKey)))
	return names, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(name), strings.Join(defs, ", "))
}

func sqlType(k schema.Kind) string {
	switch k {
	case schema.KindInt64, schema.KindInt32, schema.KindBool:
		return "INTEGER"
	case schema.KindFloat64:
		return "REAL"
	default:
		return "TEXT"
	}
}

// sqlValues converts a typed row to driver values. Timestamps become
// RFC 3339 text, dates YYYY-MM-DD and lists JSON arrays.
func sqlValues(sch *schema.Table, row any) []any {
	rec := sch.Record(row)
	values := make([]any, 0, rec.Len())
	i := 0
	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		v := pair.Value
		switch x := v.(type) {
		case time.Time:
			v = x.UTC().Format(time.RFC3339Nano)
		case bool:
			if x {
				v = 1
			} else {
				v = 0
			}
		default:
			if v != nil && sch.Kind(i) == schema.KindList {
				if reflect.ValueOf(v).Len() == 0 {
					v = nil
				} else if data, err := json.Marshal(v); err == nil {
					v = string(data)
				}
			}
		}
		values = append(values, v)
		i++
	}
	return values
}
