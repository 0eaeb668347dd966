// Package projection narrows records to a declared set of fields.
package projection

import (
	"github.com/pcastr/monitor-politico/pkg/record"
)

// Record returns a new record holding the declared fields present in rec,
// in rec's own key order. Absent fields are omitted. An empty field list
// keeps every field.
func Record(rec record.Record, fields []string) record.Record {
	out := record.New()
	if len(fields) == 0 {
		for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
		return out
	}

	want := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		want[f] = struct{}{}
	}

	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := want[pair.Key]; ok {
			out.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// Batch projects every record of b.
func Batch(b record.Batch, fields []string) record.Batch {
	out := make(record.Batch, 0, len(b))
	for _, rec := range b {
		out = append(out, Record(rec, fields))
	}
	return out
}
