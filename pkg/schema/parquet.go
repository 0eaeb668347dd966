package schema

import (
	"reflect"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ParquetRow returns row keyed by column name, the shape the parquet schema
// deconstructs. Null columns are left out.
func (t *Table) ParquetRow(row any) map[string]any {
	out := make(map[string]any, len(t.fields))
	for i, f := range t.fields {
		if v := t.valueAt(row, i); v != nil {
			out[f.Name] = v
		}
	}
	return out
}

// DecodeRow rebuilds a typed row from a row read out of a parquet file.
// columns are the column paths of the file schema; columns of the file that
// are not declared are ignored.
func (t *Table) DecodeRow(columns [][]string, prow parquet.Row) any {
	row := reflect.New(t.rowType)
	elem := row.Elem()

	for _, v := range prow {
		if v.IsNull() {
			continue
		}
		c := v.Column()
		if c < 0 || c >= len(columns) || len(columns[c]) == 0 {
			continue
		}
		i, ok := t.index[columns[c][0]]
		if !ok {
			continue
		}

		f := t.fields[i]
		dst := elem.Field(i)
		switch {
		case f.typ.kind == KindList:
			dst.Set(reflect.Append(dst, reflect.ValueOf(leafValue(f.typ.elem, v))))
		case dst.Kind() == reflect.Pointer:
			p := reflect.New(dst.Type().Elem())
			p.Elem().Set(reflect.ValueOf(leafValue(f.typ.kind, v)))
			dst.Set(p)
		default:
			dst.Set(reflect.ValueOf(leafValue(f.typ.kind, v)))
		}
	}

	return row.Interface()
}

func leafValue(k Kind, v parquet.Value) any {
	switch k {
	case KindInt64:
		return v.Int64()
	case KindInt32, KindDate:
		return v.Int32()
	case KindFloat64:
		return v.Double()
	case KindBool:
		return v.Boolean()
	case KindTimestamp:
		return time.UnixMilli(v.Int64()).UTC()
	default:
		return string(v.ByteArray())
	}
}
