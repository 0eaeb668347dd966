package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSink_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	s := NewJSONSink(dir, nopLogger())
	tbl := &config.Table{Table: "deputados"}

	rec, err := record.Decode([]byte(`{"nome": "João & Maria", "id": 2, "uri": "https://x/a?b=<c>"}`))
	require.NoError(t, err)
	batch := append(deputados(t, 1), rec)

	res, err := s.Write(context.Background(), tbl, batch)
	require.NoError(t, err)
	assert.Equal(t, "json", res.Sink)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, filepath.Join(dir, "deputados.json"), res.Location)

	data, err := os.ReadFile(res.Location)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"nome": "João & Maria"`, "no HTML or unicode escaping")
	assert.Contains(t, text, `"uri": "https://x/a?b=<c>"`)
	assert.NotContains(t, text, `\u00`)
	assert.Contains(t, text, "\n    {\n        \"id\": 1,", "four-space indent")

	back, err := record.DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, []string{"nome", "id", "uri"}, record.Keys(back[1]), "record key order kept")

	info, err := os.Stat(res.Location)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestJSONSink_Replaces(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONSink(dir, nopLogger())
	tbl := &config.Table{Table: "orgaos"}

	_, err := s.Write(context.Background(), tbl, deputados(t, 1, 2, 3))
	require.NoError(t, err)
	_, err = s.Write(context.Background(), tbl, deputados(t, 9))
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path("orgaos"))
	require.NoError(t, err)
	back, err := record.DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, back, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestJSONSink_EmptyBatch(t *testing.T) {
	s := NewJSONSink(t.TempDir(), nopLogger())

	for name, batch := range map[string]record.Batch{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			res, err := s.Write(context.Background(), &config.Table{Table: name}, batch)
			require.NoError(t, err)
			assert.Zero(t, res.Written)

			data, err := os.ReadFile(res.Location)
			require.NoError(t, err)
			assert.Equal(t, "[]\n", string(data))
		})
	}
}

func TestMarshalRaw(t *testing.T) {
	tests := map[string]struct {
		in   any
		want string
	}{
		"ampersand":    {in: "João & Maria", want: `"João & Maria"`},
		"angle quotes": {in: "<b>PT</b>", want: `"<b>PT</b>"`},
		"quote":        {in: `a"b`, want: `"a\"b"`},
		"number":       {in: 204554.0, want: `204554`},
		"list":         {in: []any{"x&y", nil}, want: `["x&y",null]`},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := marshalRaw(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}
