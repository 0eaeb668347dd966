package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pcastr/monitor-politico/internal/testutil"
	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	api       *testutil.MockAPI
	configDir string
	outputDir string
	tableDir  string
	sqlite    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	api := testutil.NewMockAPI()
	t.Cleanup(api.Close)

	root := t.TempDir()
	e := &env{
		api:       api,
		configDir: filepath.Join(root, "config"),
		outputDir: filepath.Join(root, "output"),
		tableDir:  filepath.Join(root, "tables"),
		sqlite:    filepath.Join(root, "monitor.db"),
	}
	require.NoError(t, os.MkdirAll(e.configDir, 0o755))

	api.SetLinkedPages("/api/v2/deputados", "dados", [][]map[string]any{
		{{"id": 1, "nome": "Ana", "siglaUf": "PB"}, {"id": 2, "nome": "Bruno", "siglaUf": "PE"}},
		{{"id": 3, "nome": "Carla", "siglaUf": "PB"}},
	})
	e.writeConfig(t, "deputados.json", fmt.Sprintf(`{
		"table": "deputados", "description": "Deputados em exercício",
		"full_table_name": "camara.deputados", "active": true,
		"endpoint": [{"base_url": %q, "url": "/api/v2/deputados", "key_data": "dados", "fields": ["id", "nome"]}],
		"schema": [{"name": "id", "type": "int64"}, {"name": "nome", "type": "string"}]
	}`, api.URL()))
	e.writeConfig(t, "orgaos.json", fmt.Sprintf(`{
		"table": "orgaos", "description": "Órgãos da Câmara",
		"full_table_name": "camara.orgaos", "active": false,
		"endpoint": [{"base_url": %q, "url": "/api/v2/orgaos"}]
	}`, api.URL()))
	return e
}

func (e *env) writeConfig(t *testing.T, name, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.configDir, name), []byte(doc), 0o644))
}

func (e *env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	app := New()
	var stdout, stderr bytes.Buffer
	app.cmd.SetOut(&stdout)
	app.cmd.SetErr(&stderr)

	base := []string{
		"--config-dir", e.configDir,
		"--output-dir", e.outputDir,
		"--table-dir", e.tableDir,
		"--sqlite", e.sqlite,
		"--backoff-factor", "0s",
	}
	app.SetArgs(append(args, base...))
	err := app.Run(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestList(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "deputados")
	assert.Contains(t, out, "Deputados em exercício")
	assert.Contains(t, out, "orgaos")
	assert.Contains(t, out, "false")
}

func TestRun_Table(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "run", "deputados", "--sinks", "json,table,sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "deputados")
	assert.Contains(t, out, "ok")

	data, err := os.ReadFile(filepath.Join(e.outputDir, "deputados.json"))
	require.NoError(t, err)
	batch, err := record.DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, []string{"id", "nome"}, record.Keys(batch[0]))

	assert.DirExists(t, filepath.Join(e.tableDir, "camara.deputados", "_log"))
	assert.FileExists(t, e.sqlite)

	out, _, err = e.run(t, "history", "deputados")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE")
	assert.Contains(t, out, "overwrite")
}

func TestRun_SecondRunAppendsNothing(t *testing.T) {
	e := newEnv(t)

	_, _, err := e.run(t, "run", "deputados", "--sinks", "table")
	require.NoError(t, err)
	_, _, err = e.run(t, "run", "deputados", "--sinks", "table")
	require.NoError(t, err)

	out, _, err := e.run(t, "history", "deputados")
	require.NoError(t, err)
	assert.NotContains(t, out, "WRITE", "duplicates are not committed again")
}

func TestRun_All(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "run", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "inactive")
	assert.FileExists(t, filepath.Join(e.outputDir, "deputados.json"))
	assert.NoFileExists(t, filepath.Join(e.outputDir, "orgaos.json"))
}

func TestRun_Errors(t *testing.T) {
	tests := map[string]struct {
		args    []string
		wantErr error
		wantMsg string
	}{
		"unknown table":   {args: []string{"run", "votacoes"}, wantErr: config.ErrTableNotFound},
		"no table":        {args: []string{"run"}, wantMsg: "expected one table name"},
		"all with table":  {args: []string{"run", "--all", "deputados"}, wantMsg: "--all takes no table name"},
		"unknown sink":    {args: []string{"run", "deputados", "--sinks", "csv"}, wantMsg: `unknown sink "csv"`},
		"history unknown": {args: []string{"history", "votacoes"}, wantErr: config.ErrTableNotFound},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			_, _, err := e.run(t, tc.args...)
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			if tc.wantMsg != "" {
				assert.Contains(t, err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestRun_FetchFailure(t *testing.T) {
	e := newEnv(t)
	e.api.SetResponse("/api/v2/deputados", testutil.MockResponse{StatusCode: 500})

	_, _, err := e.run(t, "run", "deputados", "--max-retries", "2")
	require.Error(t, err)
	assert.Equal(t, 2, e.api.RequestCount("/api/v2/deputados"))
}

func TestEnvironmentOverrides(t *testing.T) {
	e := newEnv(t)
	other := filepath.Join(t.TempDir(), "from-env")
	t.Setenv("MONITOR_SINKS", "json")

	app := New()
	var stdout bytes.Buffer
	app.cmd.SetOut(&stdout)
	app.cmd.SetErr(&bytes.Buffer{})
	t.Setenv("MONITOR_CONFIG_DIR", e.configDir)
	t.Setenv("MONITOR_OUTPUT_DIR", other)
	app.SetArgs([]string{"run", "deputados", "--backoff-factor", "0s"})

	require.NoError(t, app.Run(context.Background()))
	assert.FileExists(t, filepath.Join(other, "deputados.json"))
}
