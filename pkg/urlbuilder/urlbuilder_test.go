package urlbuilder

import (
	"errors"
	"strings"
	"testing"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://dadosabertos.camara.leg.br"

func TestBuild(t *testing.T) {
	tests := map[string]struct {
		ep         config.Endpoint
		pathParams map[string]any
		extra      map[string]any
		want       string
	}{
		"no query parameters": {
			ep:   config.Endpoint{BaseURL: base, URL: "/api/v2/deputados"},
			want: base + "/api/v2/deputados",
		},
		"defaults in configured order": {
			ep: config.Endpoint{BaseURL: base, URL: "/api/v2/deputados", QueryParameters: []config.QueryParameter{
				{Name: "ordem", Default: "ASC"},
				{Name: "ordenarPor", Default: "nome"},
			}},
			want: base + "/api/v2/deputados?ordem=ASC&ordenarPor=nome",
		},
		"path placeholder substituted": {
			ep:         config.Endpoint{BaseURL: base, URL: "/api/v2/deputados/{id}"},
			pathParams: map[string]any{"id": 42},
			want:       base + "/api/v2/deputados/42",
		},
		"json number placeholder": {
			ep:         config.Endpoint{BaseURL: base, URL: "/api/v2/deputados/{id}/despesas"},
			pathParams: map[string]any{"id": float64(204554)},
			want:       base + "/api/v2/deputados/204554/despesas",
		},
		"sequence joined with commas": {
			ep: config.Endpoint{BaseURL: base, URL: "/x", QueryParameters: []config.QueryParameter{
				{Name: "ano", Default: []any{1.0, 2.0, 3.0}},
			}},
			want: base + "/x?ano=1,2,3",
		},
		"empty values dropped": {
			ep: config.Endpoint{BaseURL: base, URL: "/x", QueryParameters: []config.QueryParameter{
				{Name: "a", Default: nil},
				{Name: "b", Default: ""},
				{Name: "c", Default: []any{}},
				{Name: "d", Default: "keep"},
			}},
			want: base + "/x?d=keep",
		},
		"zero and false kept": {
			ep: config.Endpoint{BaseURL: base, URL: "/x", QueryParameters: []config.QueryParameter{
				{Name: "n", Default: 0.0},
				{Name: "f", Default: false},
			}},
			want: base + "/x?n=0&f=false",
		},
		"extra overrides in place and appends sorted": {
			ep: config.Endpoint{BaseURL: base, URL: "/x", QueryParameters: []config.QueryParameter{
				{Name: "siglaUf", Default: "PB"},
				{Name: "ordem", Default: "ASC"},
			}},
			extra: map[string]any{"zeta": 1, "siglaUf": []string{"SP", "RJ"}, "alfa": "x"},
			want:  base + "/x?siglaUf=SP,RJ&ordem=ASC&alfa=x&zeta=1",
		},
		"extra can drop a default": {
			ep: config.Endpoint{BaseURL: base, URL: "/x", QueryParameters: []config.QueryParameter{
				{Name: "siglaUf", Default: "PB"},
			}},
			extra: map[string]any{"siglaUf": ""},
			want:  base + "/x",
		},
		"values are escaped": {
			ep: config.Endpoint{BaseURL: base, URL: "/x", QueryParameters: []config.QueryParameter{
				{Name: "nome", Default: "João Silva"},
			}},
			want: base + "/x?nome=Jo%C3%A3o+Silva",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Build(tc.ep, tc.pathParams, tc.extra)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuild_MissingPlaceholder(t *testing.T) {
	ep := config.Endpoint{BaseURL: base, URL: "/api/v2/deputados/{id}"}

	for name, params := range map[string]map[string]any{
		"no params":   nil,
		"other param": {"idLegislatura": 57},
		"nil value":   {"id": nil},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Build(ep, params, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalidConfig))

			var cerr *config.Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, "id", cerr.Field)
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	ep := config.Endpoint{BaseURL: base, URL: "/x"}
	extra := map[string]any{"c": 3, "a": 1, "b": 2, "d": 4, "e": 5}

	first, err := Build(ep, nil, extra)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		got, err := Build(ep, nil, extra)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
	assert.Equal(t, base+"/x?a=1&b=2&c=3&d=4&e=5", first)
}

func TestBuild_NoPlaceholderLeft(t *testing.T) {
	ep := config.Endpoint{BaseURL: base, URL: "/api/v2/deputados/{id}/orgaos/{id}"}
	got, err := Build(ep, map[string]any{"id": 42}, nil)
	require.NoError(t, err)
	assert.False(t, strings.Contains(got, "{id}"))
	assert.Equal(t, base+"/api/v2/deputados/42/orgaos/42", got)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"id", "ano"}, Placeholders("/deputados/{id}/despesas/{ano}"))
	assert.Empty(t, Placeholders("/deputados"))
}
