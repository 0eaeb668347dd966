package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/pcastr/monitor-politico/pkg/record"
)

// ValidationError reports a record whose shape does not match the declared
// columns. It concerns a single record; callers drop the record and go on.
type ValidationError struct {
	Column string
	Reason string
	Value  any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("column %q: %s (got %T %v)", e.Column, e.Reason, e.Value, e.Value)
	}
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Row converts rec into a typed row (a pointer to the generated struct).
// Fields not declared as columns are ignored.
func (t *Table) Row(rec record.Record) (any, error) {
	row := reflect.New(t.rowType)
	elem := row.Elem()

	for i, f := range t.fields {
		raw, ok := rec.Get(f.Name)
		if !ok || raw == nil {
			if f.Nullable || f.typ.kind == KindList {
				continue
			}
			return nil, &ValidationError{Column: f.Name, Reason: "required field missing"}
		}

		dst := elem.Field(i)
		if f.typ.kind == KindList {
			items, ok := raw.([]any)
			if !ok {
				return nil, &ValidationError{Column: f.Name, Reason: "expected a list", Value: raw}
			}
			list := reflect.MakeSlice(dst.Type(), 0, len(items))
			for _, item := range items {
				v, err := convert(f.typ.elem, item)
				if err != nil {
					return nil, &ValidationError{Column: f.Name, Reason: "list element: " + err.Error(), Value: item}
				}
				list = reflect.Append(list, reflect.ValueOf(v))
			}
			dst.Set(list)
			continue
		}

		v, err := convert(f.typ.kind, raw)
		if err != nil {
			return nil, &ValidationError{Column: f.Name, Reason: err.Error(), Value: raw}
		}
		if dst.Kind() == reflect.Pointer {
			p := reflect.New(dst.Type().Elem())
			p.Elem().Set(reflect.ValueOf(v))
			dst.Set(p)
		} else {
			dst.Set(reflect.ValueOf(v))
		}
	}

	return row.Interface(), nil
}

// Record converts a typed row back into a record in column order. Dates are
// rendered as YYYY-MM-DD.
func (t *Table) Record(row any) record.Record {
	rec := record.New()
	for i, f := range t.fields {
		v := t.valueAt(row, i)
		if v != nil && f.typ.kind == KindDate {
			v = epoch.AddDate(0, 0, int(v.(int32))).Format(time.DateOnly)
		}
		rec.Set(f.Name, v)
	}
	return rec
}

func convert(kind Kind, raw any) (any, error) {
	switch kind {
	case KindInt64:
		n, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		return n, nil
	case KindInt32:
		n, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value out of int32 range")
		}
		return int32(n), nil
	case KindFloat64:
		return toFloat(raw)
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string")
		}
		return s, nil
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean")
		}
		return b, nil
	case KindTimestamp:
		ts, err := toTime(raw)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case KindDate:
		ts, err := toTime(raw)
		if err != nil {
			return nil, err
		}
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		return int32(day.Sub(epoch).Hours() / 24), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("expected an integer")
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("expected an integer")
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number")
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number")
	}
}

func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time format")
	default:
		return time.Time{}, fmt.Errorf("expected a time string")
	}
}
