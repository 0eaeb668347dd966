package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/schema"
	"github.com/rs/zerolog"
)

// Table operations recorded in the log.
const (
	OpCreate = "CREATE"
	OpWrite  = "WRITE"
)

// TableSink writes a transactional parquet table per configured table at
// <Root>/<full_table_name>. Data lives in immutable part files; the _log
// directory records which part files make up each version.
type TableSink struct {
	Root   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewTableSink creates a table sink rooted at root.
func NewTableSink(root string, logger zerolog.Logger) *TableSink {
	return &TableSink{
		Root:   root,
		logger: logger.With().Str("sink", "table").Logger(),
		now:    time.Now,
	}
}

// Name implements Sink.
func (s *TableSink) Name() string { return "table" }

// Dir returns the directory of table.
func (s *TableSink) Dir(t *config.Table) string {
	return filepath.Join(s.Root, t.FullTableName)
}

func (s *TableSink) log(t *config.Table) txLog {
	return txLog{dir: filepath.Join(s.Dir(t), logDir)}
}

// Write implements Sink.
//
// In append mode records whose primary key is already stored, or repeats
// an earlier record of the same batch, are skipped. The first write to a
// missing table creates it. Overwrite mode replaces the table's contents.
// Records that do not match the declared columns are dropped.
func (s *TableSink) Write(ctx context.Context, t *config.Table, batch record.Batch) (Result, error) {
	sch, err := compile(t, s.Name())
	if err != nil {
		return Result{}, err
	}
	logger := s.logger.With().Str("table", t.Table).Logger()

	commits, err := s.log(t).commits()
	if err != nil {
		return Result{}, err
	}
	live := replay(commits)
	version := int64(len(commits))
	if len(commits) > 0 {
		version = commits[len(commits)-1].Version + 1
	}

	rows, dropped := typedRows(sch, batch, logger)
	res := Result{Sink: s.Name(), Location: s.Dir(t), Dropped: dropped, Version: -1}

	mode := t.WriteMode
	op := OpWrite
	if len(commits) == 0 {
		op = OpCreate
		mode = config.WriteOverwrite
	}

	seen := make(map[string]bool, len(rows))
	if mode == config.WriteAppend {
		if err := s.scanKeys(ctx, t, sch, live, func(key string) { seen[key] = true }); err != nil {
			return Result{}, err
		}
	}

	fresh := rows[:0]
	for _, row := range rows {
		key, ok := keyOf(sch, row, t.PrimaryKey)
		if !ok {
			res.Dropped++
			logger.Warn().Str("column", t.PrimaryKey).Msg("Dropping record without primary key")
			continue
		}
		if seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true
		fresh = append(fresh, row)
	}

	if len(fresh) == 0 && mode == config.WriteAppend {
		logger.Info().Int("skipped", res.Skipped).Msg("No new records, nothing committed")
		res.observe(t.Table)
		return res, nil
	}

	c := Commit{
		Version:   version,
		Timestamp: s.now().UTC(),
		Operation: op,
		Mode:      mode,
		RunID:     uuid.NewString(),
	}
	if mode == config.WriteOverwrite {
		c.Remove = live
	}

	if len(fresh) > 0 {
		part, err := s.writePart(t, sch, fresh)
		if err != nil {
			return Result{}, err
		}
		c.Add = []FileAction{part}
	}

	if err := s.log(t).commit(c); err != nil {
		for _, a := range c.Add {
			_ = os.Remove(filepath.Join(s.Dir(t), a.Path))
		}
		return Result{}, err
	}

	res.Written = len(fresh)
	res.Version = c.Version
	res.observe(t.Table)

	logger.Info().
		Int64("version", c.Version).
		Str("mode", mode).
		Int("written", res.Written).
		Int("skipped", res.Skipped).
		Int("dropped", res.Dropped).
		Msg("Table commit")
	return res, nil
}

func (s *TableSink) writePart(t *config.Table, sch *schema.Table, rows []any) (FileAction, error) {
	dir := s.Dir(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileAction{}, fmt.Errorf("create table dir: %w", err)
	}

	name := fmt.Sprintf("part-%s.snappy.parquet", uuid.NewString())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return FileAction{}, fmt.Errorf("create part file: %w", err)
	}

	prows := make([]any, len(rows))
	for i, row := range rows {
		prows[i] = sch.ParquetRow(row)
	}

	w := parquet.NewGenericWriter[any](f, sch.Parquet(), parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(prows); err != nil {
		f.Close()
		os.Remove(path)
		return FileAction{}, fmt.Errorf("write part file: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return FileAction{}, fmt.Errorf("flush part file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return FileAction{}, fmt.Errorf("close part file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return FileAction{}, fmt.Errorf("stat part file: %w", err)
	}
	return FileAction{Path: name, Rows: int64(len(rows)), Size: info.Size()}, nil
}

// eachRow reads every row of the live part files.
func (s *TableSink) eachRow(ctx context.Context, t *config.Table, sch *schema.Table, live []FileAction, fn func(row any)) error {
	for _, part := range live {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.readPart(filepath.Join(s.Dir(t), part.Path), sch, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *TableSink) readPart(path string, sch *schema.Table, fn func(row any)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open part file: %w", err)
	}
	defer f.Close()

	r := parquet.NewReader(f)
	defer r.Close()

	columns := r.Schema().Columns()
	buf := make([]parquet.Row, 64)
	for {
		n, err := r.ReadRows(buf)
		for _, prow := range buf[:n] {
			fn(sch.DecodeRow(columns, prow))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
	}
}

func (s *TableSink) scanKeys(ctx context.Context, t *config.Table, sch *schema.Table, live []FileAction, fn func(key string)) error {
	return s.eachRow(ctx, t, sch, live, func(row any) {
		if key, ok := keyOf(sch, row, t.PrimaryKey); ok {
			fn(key)
		}
	})
}

// History returns the table's commits, oldest first.
func (s *TableSink) History(t *config.Table) ([]Commit, error) {
	return s.log(t).commits()
}

// Snapshot returns the part files of the latest version.
func (s *TableSink) Snapshot(t *config.Table) ([]FileAction, error) {
	commits, err := s.log(t).commits()
	if err != nil {
		return nil, err
	}
	return replay(commits), nil
}

// ReadAll returns every stored record of the latest version in column order.
func (s *TableSink) ReadAll(ctx context.Context, t *config.Table) (record.Batch, error) {
	sch, err := compile(t, s.Name())
	if err != nil {
		return nil, err
	}
	live, err := s.Snapshot(t)
	if err != nil {
		return nil, err
	}

	var out record.Batch
	err = s.eachRow(ctx, t, sch, live, func(row any) {
		out = append(out, sch.Record(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
