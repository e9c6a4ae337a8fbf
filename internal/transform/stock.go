package transform

import (
	"time"

	"erpsync/internal/records"
)

// StockMovement is one inventory movement line.
type StockMovement struct {
	LocalEstoque      *string
	Filial            *int64
	Documento         *string
	Codigo            *string
	DataHora          *time.Time
	CurrentTimeMillis *int64
	TipoDocumento     *int64
	Qtd               *float64
	ValorTotal        *float64
	Un                *string
	TipoMovimentacao  *string
	Nome              *string
}

var stockColumns = []string{
	"local_estoque", "filial", "documento", "codigo", "datahora", "currenttimemillis",
	"tipodocumento", "qtd", "valortotal", "un", "tipo_movimentacao", "nome",
}

// StockKeys mirrors the destination's unique constraint.
var StockKeys = []string{"datahora", "codigo", "documento", "tipodocumento", "tipo_movimentacao", "currenttimemillis"}

func (StockMovement) Columns() []string { return stockColumns }

func (m StockMovement) Values() []any {
	return []any{
		records.Value(m.LocalEstoque), records.Value(m.Filial), records.Value(m.Documento),
		records.Value(m.Codigo), records.Value(m.DataHora), records.Value(m.CurrentTimeMillis),
		records.Value(m.TipoDocumento), records.Value(m.Qtd), records.Value(m.ValorTotal),
		records.Value(m.Un), records.Value(m.TipoMovimentacao), records.Value(m.Nome),
	}
}

func StockMovements(set records.Set) ([]StockMovement, error) {
	set, err := prepare("movimentacao_estoque", set, nil, stockColumns)
	if err != nil {
		return nil, err
	}

	out := make([]StockMovement, 0, set.Len())
	for _, r := range set.Records {
		out = append(out, StockMovement{
			LocalEstoque:      records.Text(r["local_estoque"]),
			Filial:            records.Int(r["filial"]),
			Documento:         records.Text(r["documento"]),
			Codigo:            records.Text(r["codigo"]),
			DataHora:          records.Timestamp(r["datahora"]),
			CurrentTimeMillis: records.Int(r["currenttimemillis"]),
			TipoDocumento:     records.Int(r["tipodocumento"]),
			Qtd:               records.Float(r["qtd"]),
			ValorTotal:        records.Float(r["valortotal"]),
			Un:                records.Text(r["un"]),
			TipoMovimentacao:  records.Text(r["tipo_movimentacao"]),
			Nome:              records.Text(r["nome"]),
		})
	}
	return out, nil
}
