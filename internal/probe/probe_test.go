package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpsync/internal/records"
)

func sample() records.Set {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return records.Set{
		Columns: []string{"chave", "valor", "emissao", "situacao", "obs"},
		Records: []records.Record{
			{"chave": "K1", "valor": "10,50", "emissao": day, "situacao": "Autorizada", "obs": nil},
			{"chave": "K2", "valor": int64(20), "emissao": day, "situacao": "Autorizada", "obs": "NULL"},
			{"chave": "K3", "valor": 7.25, "emissao": day.Add(90 * time.Minute), "situacao": "Cancelada", "obs": nil},
		},
	}
}

func colByName(t *testing.T, r Report, name string) ColumnStats {
	t.Helper()
	for _, c := range r.Columns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q not in report", name)
	return ColumnStats{}
}

func TestProfileColumns(t *testing.T) {
	r := Profile(sample(), Options{})
	require.Equal(t, 3, r.SampledRows)
	require.Len(t, r.Columns, 5)

	chave := colByName(t, r, "chave")
	assert.Equal(t, 3, chave.NonNull)
	assert.Equal(t, 3, chave.Distinct)
	assert.Equal(t, "text", chave.Kind)

	assert.Equal(t, "float", colByName(t, r, "valor").Kind)
	assert.Equal(t, "timestamp", colByName(t, r, "emissao").Kind)

	sit := colByName(t, r, "situacao")
	assert.Equal(t, 2, sit.Distinct)

	obs := colByName(t, r, "obs")
	assert.Zero(t, obs.NonNull)
	assert.Equal(t, "unknown", obs.Kind)

	assert.Equal(t, []string{"chave", "valor", "emissao"}, r.Candidates)
}

func TestProfileKey(t *testing.T) {
	set := sample()
	set.Records = append(set.Records, records.Record{"chave": "K1", "valor": nil, "emissao": nil, "situacao": nil, "obs": nil})

	r := Profile(set, Options{Keys: []string{"chave"}})
	require.NotNil(t, r.Key)
	assert.Equal(t, 1, r.Key.Duplicates)
	assert.Empty(t, r.Key.Missing)
	assert.NotContains(t, r.Candidates, "chave")

	r = Profile(set, Options{Keys: []string{"chave", "filial"}})
	assert.Equal(t, []string{"filial"}, r.Key.Missing)
	assert.Zero(t, r.Key.Duplicates)
}

func TestProfileSampleRows(t *testing.T) {
	r := Profile(sample(), Options{SampleRows: 2, Keys: []string{"situacao"}})
	assert.Equal(t, 2, r.SampledRows)
	assert.Equal(t, 1, r.Key.Duplicates)
}

func TestKindOf(t *testing.T) {
	cases := map[string]any{
		"":          nil,
		"int":       "123",
		"float":     "1234,56",
		"date":      "2024-03-01",
		"timestamp": "2024-03-01 10:20:30",
		"bool":      true,
		"text":      "Loja 1",
	}
	for want, v := range cases {
		assert.Equal(t, want, kindOf(v), "value %v", v)
	}
	assert.Equal(t, "bytes", kindOf([]byte{0xff, 0x00, 0x01}))
	assert.Equal(t, "text", kindOf([]byte("<xml/>")))
}

func TestMergeKinds(t *testing.T) {
	assert.Equal(t, "float", mergeKinds(map[string]bool{"int": true, "float": true}))
	assert.Equal(t, "timestamp", mergeKinds(map[string]bool{"date": true, "timestamp": true}))
	assert.Equal(t, "text", mergeKinds(map[string]bool{"int": true, "date": true}))
}

func TestReportString(t *testing.T) {
	assert.Equal(t, "profile: no rows sampled", Report{}.String())

	s := Profile(sample(), Options{Keys: []string{"chave"}}).String()
	assert.Contains(t, s, "sampled_rows=3")
	assert.Contains(t, s, "key (chave): unique in sample")
	assert.Contains(t, s, "candidate keys: chave, valor, emissao")
}
