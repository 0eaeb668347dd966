// Package config loads the per-table JSON configuration files that describe
// which endpoint to fetch, how to paginate it and where the records go.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/pcastr/monitor-politico/pkg/schema"
)

// RequiredKeys must be present at the top level of every configuration file.
var RequiredKeys = []string{"table", "description", "full_table_name", "active", "endpoint"}

// Pagination conventions.
const (
	PaginationLinks = "links"
	PaginationPage  = "page"
	PaginationNone  = "none"
)

// Write modes for table sinks.
const (
	WriteAppend    = "append"
	WriteOverwrite = "overwrite"
)

// Defaults applied when a configuration leaves a value out.
const (
	DefaultPageParam  = "pagina"
	DefaultSizeParam  = "itens"
	DefaultPageSize   = 1000
	DefaultStartPage  = 1
	DefaultPrimaryKey = "id"
)

// Table is one logical table: a description, an activation gate and the
// endpoint its records are fetched from.
type Table struct {
	Table         string     `json:"table" validate:"required"`
	Description   string     `json:"description"`
	FullTableName string     `json:"full_table_name" validate:"required"`
	Active        bool       `json:"active"`
	Endpoint      []Endpoint `json:"endpoint" validate:"required,min=1,dive"`

	// DependsOn makes this a detail table: the key values of the parent
	// table's records are substituted one by one into this endpoint's URL.
	DependsOn *Dependency `json:"depends_on,omitempty"`

	// Schema declares the columns written to columnar sinks.
	Schema     []schema.Column `json:"schema,omitempty" validate:"omitempty,dive"`
	PrimaryKey string          `json:"primary_key,omitempty"`
	WriteMode  string          `json:"write_mode,omitempty" validate:"omitempty,oneof=append overwrite"`
}

// Endpoint describes how to build the request URL and where the records live
// in the response body.
type Endpoint struct {
	BaseURL         string           `json:"base_url" validate:"required,url"`
	URL             string           `json:"url" validate:"required"`
	QueryParameters []QueryParameter `json:"query_parameters,omitempty" validate:"omitempty,dive"`
	KeyData         string           `json:"key_data,omitempty"`
	Fields          []string         `json:"fields,omitempty"`
	Pagination      *Pagination      `json:"pagination,omitempty"`
}

// QueryParameter is a named query parameter with its default value. The
// default may be a scalar or a list.
type QueryParameter struct {
	Name    string `json:"name" validate:"required"`
	Default any    `json:"default"`
}

// Pagination selects the pagination convention. A nil Pagination means the
// next-link convention.
type Pagination struct {
	Type      string `json:"type,omitempty" validate:"omitempty,oneof=links page none"`
	PageParam string `json:"page_param,omitempty"`
	SizeParam string `json:"size_param,omitempty"`
	PageSize  int    `json:"page_size,omitempty" validate:"gte=0"`
	StartPage int    `json:"start_page,omitempty" validate:"gte=0"`
}

// Dependency points at the parent table whose records provide the IDs.
// When Column is set every detail record stores the id it was fetched for
// under that name.
type Dependency struct {
	Table  string `json:"table" validate:"required"`
	Key    string `json:"key,omitempty"`
	Param  string `json:"param,omitempty"`
	Column string `json:"column,omitempty"`
}

// PrimaryEndpoint returns the first configured endpoint.
func (t *Table) PrimaryEndpoint() Endpoint {
	return t.Endpoint[0]
}

// Load reads and validates a configuration file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse validates a configuration document. source names the document in errors.
func Parse(data []byte, source string) (*Table, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Path: source, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	for _, key := range RequiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, &Error{Path: source, Field: key, Reason: "required key missing"}
		}
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &Error{Path: source, Reason: err.Error()}
	}

	if err := validateStruct(&t); err != nil {
		return nil, &Error{Path: source, Table: t.Table, Reason: err.Error()}
	}

	if len(t.Schema) > 0 {
		if _, err := schema.New(t.Schema); err != nil {
			return nil, &Error{Path: source, Table: t.Table, Field: "schema", Reason: err.Error()}
		}
	}

	t.applyDefaults()
	return &t, nil
}

func (t *Table) applyDefaults() {
	if t.PrimaryKey == "" {
		t.PrimaryKey = DefaultPrimaryKey
	}
	if t.WriteMode == "" {
		t.WriteMode = WriteAppend
	}
	if t.DependsOn != nil {
		if t.DependsOn.Key == "" {
			t.DependsOn.Key = DefaultPrimaryKey
		}
		if t.DependsOn.Param == "" {
			t.DependsOn.Param = DefaultPrimaryKey
		}
	}

	for i := range t.Endpoint {
		p := t.Endpoint[i].Pagination
		if p == nil {
			continue
		}
		if p.Type == "" {
			p.Type = PaginationLinks
			if p.PageSize > 0 {
				p.Type = PaginationPage
			}
		}
		if p.Type != PaginationPage {
			continue
		}
		if p.PageParam == "" {
			p.PageParam = DefaultPageParam
		}
		if p.SizeParam == "" {
			p.SizeParam = DefaultSizeParam
		}
		if p.PageSize == 0 {
			p.PageSize = DefaultPageSize
		}
		if p.StartPage == 0 {
			p.StartPage = DefaultStartPage
		}
	}
}
