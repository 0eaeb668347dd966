// Package schema turns the columns declared in a table configuration into a
// columnar (parquet) schema and converts fetched records into typed rows.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Kind is the logical type of a column.
type Kind int

const (
	KindInt64 Kind = iota
	KindInt32
	KindFloat64
	KindString
	KindBool
	KindTimestamp
	KindDate
	KindList
)

var kindNames = map[string]Kind{
	"int64":     KindInt64,
	"int32":     KindInt32,
	"float64":   KindFloat64,
	"string":    KindString,
	"bool":      KindBool,
	"timestamp": KindTimestamp,
	"date":      KindDate,
}

// String returns the configuration name of k.
func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	if k == KindList {
		return "list"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Column is a declared column: its source field name, type and nullability.
//
// Types are int64, int32, float64, string, bool, timestamp, date and
// list<elem> where elem is any non-list type.
type Column struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Nullable bool   `json:"nullable,omitempty"`
}

type columnType struct {
	kind Kind
	elem Kind // list element kind
}

func parseType(s string) (columnType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "list<"), ">")
		elem, ok := kindNames[inner]
		if !ok {
			return columnType{}, fmt.Errorf("unsupported list element type %q", inner)
		}
		return columnType{kind: KindList, elem: elem}, nil
	}

	kind, ok := kindNames[s]
	if !ok {
		return columnType{}, fmt.Errorf("unsupported column type %q", s)
	}
	return columnType{kind: kind}, nil
}

func (ct columnType) goType(nullable bool) reflect.Type {
	if ct.kind == KindList {
		// an absent list is written as an empty one
		return reflect.SliceOf(scalarGoType(ct.elem))
	}
	t := scalarGoType(ct.kind)
	if nullable {
		return reflect.PointerTo(t)
	}
	return t
}

func scalarGoType(k Kind) reflect.Type {
	switch k {
	case KindInt64:
		return reflect.TypeOf(int64(0))
	case KindInt32, KindDate:
		return reflect.TypeOf(int32(0))
	case KindFloat64:
		return reflect.TypeOf(float64(0))
	case KindBool:
		return reflect.TypeOf(false)
	case KindTimestamp:
		return reflect.TypeOf(time.Time{})
	default:
		return reflect.TypeOf("")
	}
}

// node returns the parquet node of a column. Nullable scalars are optional;
// lists are never null, an absent list is stored empty.
func (ct columnType) node(nullable bool) parquet.Node {
	if ct.kind == KindList {
		return parquet.List(scalarNode(ct.elem))
	}
	n := scalarNode(ct.kind)
	if nullable {
		return parquet.Optional(n)
	}
	return n
}

func scalarNode(k Kind) parquet.Node {
	switch k {
	case KindInt64:
		return parquet.Int(64)
	case KindInt32:
		return parquet.Int(32)
	case KindFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case KindTimestamp:
		return parquet.Timestamp(parquet.Millisecond)
	case KindDate:
		return parquet.Date()
	default:
		return parquet.String()
	}
}

type field struct {
	Column
	typ columnType
}

// Table is a compiled column set: a parquet schema plus the Go row type that
// holds converted records in memory.
type Table struct {
	fields  []field
	index   map[string]int
	rowType reflect.Type
	schema  *parquet.Schema
}

// New compiles columns. Column names must be unique and must not contain commas.
func New(columns []Column) (*Table, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("schema has no columns")
	}

	t := &Table{index: make(map[string]int, len(columns))}
	structFields := make([]reflect.StructField, 0, len(columns))
	group := make(parquet.Group, len(columns))

	for i, col := range columns {
		if col.Name == "" || strings.ContainsAny(col.Name, `,"`) {
			return nil, fmt.Errorf("column %d: invalid name %q", i, col.Name)
		}
		if _, dup := t.index[col.Name]; dup {
			return nil, fmt.Errorf("column %q declared twice", col.Name)
		}

		ct, err := parseType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}

		t.index[col.Name] = i
		t.fields = append(t.fields, field{Column: col, typ: ct})
		structFields = append(structFields, reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: ct.goType(col.Nullable),
		})
		group[col.Name] = ct.node(col.Nullable)
	}

	t.rowType = reflect.StructOf(structFields)
	sch, err := newParquetSchema(group)
	if err != nil {
		return nil, err
	}
	t.schema = sch
	return t, nil
}

func newParquetSchema(group parquet.Group) (sch *parquet.Schema, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build parquet schema: %v", r)
		}
	}()
	return parquet.NewSchema("record", group), nil
}

// Parquet returns the parquet schema for the columns.
func (t *Table) Parquet() *parquet.Schema {
	return t.schema
}

// Columns returns the declared columns in order.
func (t *Table) Columns() []Column {
	cols := make([]Column, len(t.fields))
	for i, f := range t.fields {
		cols[i] = f.Column
	}
	return cols
}

// Kind returns the logical type of column i.
func (t *Table) Kind(i int) Kind {
	return t.fields[i].typ.kind
}

// Has reports whether a column named name is declared.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Value returns the value of column name in row, dereferencing nullable
// columns. It returns nil for unknown columns and null values.
func (t *Table) Value(row any, name string) any {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.valueAt(row, i)
}

func (t *Table) valueAt(row any, i int) any {
	v := reflect.Indirect(reflect.ValueOf(row)).Field(i)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// Values returns every column value of row in declaration order.
func (t *Table) Values(row any) []any {
	values := make([]any, len(t.fields))
	for i := range t.fields {
		values[i] = t.valueAt(row, i)
	}
	return values
}
