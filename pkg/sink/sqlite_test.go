package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "monitor.db"), nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLiteSink, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "camara_deputados", TableName(&config.Table{FullTableName: "camara.deputados"}))
	assert.Equal(t, "a_b", TableName(&config.Table{FullTableName: "-a b-"}))
}

func TestSQLiteSink_Typed(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	tbl := deputadosTable(config.WriteAppend)

	rec, err := record.Decode([]byte(`{"id": 7, "nome": "Fulana", "dataNascimento": "1975-03-02", "redeSocial": ["x"]}`))
	require.NoError(t, err)

	res, err := s.Write(ctx, tbl, append(deputados(t, 1, 2, 1), rec))
	require.NoError(t, err)
	assert.Equal(t, "camara_deputados", res.Location)
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, 1, res.Skipped)

	res, err = s.Write(ctx, tbl, deputados(t, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, countRows(t, s, "camara_deputados"))

	var (
		nascimento string
		redes      string
	)
	require.NoError(t, s.DB().QueryRow(
		`SELECT "dataNascimento", "redeSocial" FROM camara_deputados WHERE id = ?`, 7,
	).Scan(&nascimento, &redes))
	assert.Equal(t, "1975-03-02", nascimento)
	assert.JSONEq(t, `["x"]`, redes)
}

func TestSQLiteSink_Overwrite(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	tbl := deputadosTable(config.WriteOverwrite)

	_, err := s.Write(ctx, tbl, deputados(t, 1, 2, 3))
	require.NoError(t, err)
	res, err := s.Write(ctx, tbl, deputados(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, countRows(t, s, "camara_deputados"))
}

func TestSQLiteSink_Untyped(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	tbl := &config.Table{Table: "orgaos", FullTableName: "camara.orgaos", PrimaryKey: "id", WriteMode: config.WriteAppend}

	batch := deputados(t, 10, 11)
	batch = append(batch, record.FromMap(map[string]any{"nome": "sem id"}))

	res, err := s.Write(ctx, tbl, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Dropped)

	var data string
	require.NoError(t, s.DB().QueryRow(`SELECT data FROM camara_orgaos WHERE id = ?`, "10").Scan(&data))
	assert.JSONEq(t, `{"id": 10, "nome": "Deputado K", "siglaUf": "PB"}`, data)
}
