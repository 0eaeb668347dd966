package sink

import (
	"testing"

	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/record"
	"github.com/pcastr/monitor-politico/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func deputadosTable(mode string) *config.Table {
	return &config.Table{
		Table:         "deputados",
		FullTableName: "camara.deputados",
		Active:        true,
		PrimaryKey:    "id",
		WriteMode:     mode,
		Schema: []schema.Column{
			{Name: "id", Type: "int64"},
			{Name: "nome", Type: "string"},
			{Name: "siglaUf", Type: "string", Nullable: true},
			{Name: "dataNascimento", Type: "date", Nullable: true},
			{Name: "redeSocial", Type: "list<string>"},
		},
	}
}

func deputados(t *testing.T, ids ...int) record.Batch {
	t.Helper()
	batch := make(record.Batch, 0, len(ids))
	for _, id := range ids {
		rec := record.New()
		rec.Set("id", float64(id))
		rec.Set("nome", "Deputado "+string(rune('A'+id%26)))
		rec.Set("siglaUf", "PB")
		batch = append(batch, rec)
	}
	return batch
}

func ids(t *testing.T, batch record.Batch) []int64 {
	t.Helper()
	out := make([]int64, 0, len(batch))
	for _, rec := range batch {
		v, ok := rec.Get("id")
		require.True(t, ok)
		out = append(out, v.(int64))
	}
	return out
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
