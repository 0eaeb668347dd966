// Package record defines the key-ordered records that flow from the fetcher
// through projection into the sinks.
//
// Records keep the key order of the JSON object they were decoded from, so a
// projected record lists its fields in the same order as the API returned them.
package record

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is a single key-value record in source key order.
type Record = *orderedmap.OrderedMap[string, any]

// Batch is an ordered sequence of records accumulated across pages.
type Batch []Record

// New returns an empty record.
func New() Record {
	return orderedmap.New[string, any]()
}

// FromMap builds a record from a plain map. Keys are inserted in sorted order
// since Go maps carry no order of their own.
func FromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := orderedmap.New[string, any]()
	for _, k := range keys {
		rec.Set(k, m[k])
	}
	return rec
}

// Keys returns the keys of rec in order.
func Keys(rec Record) []string {
	keys := make([]string, 0, rec.Len())
	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// ToMap flattens rec into a plain map.
func ToMap(rec Record) map[string]any {
	m := make(map[string]any, rec.Len())
	for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = pair.Value
	}
	return m
}

// Decode parses a JSON object into a record.
func Decode(data []byte) (Record, error) {
	rec := New()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// DecodeBatch parses a JSON array of objects into a batch. Elements that are
// not objects are rejected.
func DecodeBatch(data []byte) (Batch, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	batch := make(Batch, 0, len(raw))
	for i, elem := range raw {
		trimmed := bytes.TrimSpace(elem)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("decode batch: element %d is not an object", i)
		}
		rec, err := Decode(trimmed)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// Values collects the values stored under key across the batch, skipping
// records that do not carry it.
func (b Batch) Values(key string) []any {
	values := make([]any, 0, len(b))
	for _, rec := range b {
		if v, ok := rec.Get(key); ok && v != nil {
			values = append(values, v)
		}
	}
	return values
}
