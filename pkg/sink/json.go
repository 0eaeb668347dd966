package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/rs/zerolog"
)

// JSONSink writes each table's records to <Dir>/<table>.json, replacing the
// previous file.
type JSONSink struct {
	Dir    string
	logger zerolog.Logger
}

// NewJSONSink creates a JSON sink rooted at dir.
func NewJSONSink(dir string, logger zerolog.Logger) *JSONSink {
	return &JSONSink{Dir: dir, logger: logger.With().Str("sink", "json").Logger()}
}

// Name implements Sink.
func (s *JSONSink) Name() string { return "json" }

// Path returns the output file of table.
func (s *JSONSink) Path(table string) string {
	return filepath.Join(s.Dir, table+".json")
}

// Write implements Sink. The file is written to a temporary name and
// renamed into place.
func (s *JSONSink) Write(_ context.Context, t *config.Table, batch record.Batch) (Result, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	path := s.Path(t.Table)
	tmp, err := os.CreateTemp(s.Dir, "."+t.Table+"-*.json")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	data, err := encodeBatch(batch)
	if err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("encode %s: %w", t.Table, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Result{}, fmt.Errorf("rename into %s: %w", path, err)
	}

	res := Result{Sink: s.Name(), Location: path, Written: len(batch)}
	res.observe(t.Table)

	s.logger.Info().
		Str("table", t.Table).
		Str("path", path).
		Int("records", len(batch)).
		Msg("JSON file written")
	return res, nil
}

// encodeBatch renders batch as an indented JSON array. Keys keep record
// order and text is written without HTML escaping.
func encodeBatch(batch record.Batch) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, rec := range batch {
		if i > 0 {
			compact.WriteByte(',')
		}
		compact.WriteByte('{')
		first := true
		for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				compact.WriteByte(',')
			}
			first = false

			key, err := marshalRaw(pair.Key)
			if err != nil {
				return nil, err
			}
			value, err := marshalRaw(pair.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", pair.Key, err)
			}
			compact.Write(key)
			compact.WriteByte(':')
			compact.Write(value)
		}
		compact.WriteByte('}')
	}
	compact.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// marshalRaw encodes v leaving &, < and > as they are.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
