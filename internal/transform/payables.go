package transform

import (
	"time"

	"erpsync/internal/records"
)

// Payable is one installment of an accounts-payable title.
type Payable struct {
	IDOrigem           *int64
	Tipo               *string
	Documento          *string
	Parcela            *int64
	RazaoSocial        *string
	Status             *string
	Valor              *float64
	Saldo              *float64
	Emissao            *time.Time
	VencimentoOriginal *time.Time
	Vencimento         *time.Time
	Entrada            *time.Time
	Pagamento          *time.Time
	Baixa              *time.Time
	Registro           *time.Time
	Historico          *string
	CodigoBarras       *string
	CodigoDigitado     *string
}

var payableColumns = []string{
	"id_origem", "tipo", "documento", "parcela", "razao_social", "status", "valor",
	"saldo", "emissao", "vencimento_original", "vencimento", "entrada", "pagamento",
	"baixa", "registro", "historico", "codigo_barras", "codigo_digitado",
}

// PayableKeys is the default unique key of contas_a_pagar.
var PayableKeys = []string{"tipo", "documento", "id_origem", "parcela", "vencimento_original", "registro"}

func (Payable) Columns() []string { return payableColumns }

func (p Payable) Values() []any {
	return []any{
		records.Value(p.IDOrigem), records.Value(p.Tipo), records.Value(p.Documento), records.Value(p.Parcela),
		records.Value(p.RazaoSocial), records.Value(p.Status), records.Value(p.Valor), records.Value(p.Saldo),
		records.Value(p.Emissao), records.Value(p.VencimentoOriginal), records.Value(p.Vencimento),
		records.Value(p.Entrada), records.Value(p.Pagamento), records.Value(p.Baixa), records.Value(p.Registro),
		records.Value(p.Historico), records.Value(p.CodigoBarras), records.Value(p.CodigoDigitado),
	}
}

// Payables coerces the payables extract, whose columns already carry the
// destination names. id_origem values beyond the bigint range become NULL.
func Payables(set records.Set) ([]Payable, error) {
	set, err := prepare("contas_a_pagar", set, nil, payableColumns)
	if err != nil {
		return nil, err
	}

	out := make([]Payable, 0, set.Len())
	for _, r := range set.Records {
		out = append(out, Payable{
			IDOrigem:           records.Int(r["id_origem"]),
			Tipo:               records.Text(r["tipo"]),
			Documento:          records.Text(r["documento"]),
			Parcela:            records.Int(r["parcela"]),
			RazaoSocial:        records.Text(r["razao_social"]),
			Status:             records.Text(r["status"]),
			Valor:              records.Float(r["valor"]),
			Saldo:              records.Float(r["saldo"]),
			Emissao:            records.Date(r["emissao"]),
			VencimentoOriginal: records.Date(r["vencimento_original"]),
			Vencimento:         records.Date(r["vencimento"]),
			Entrada:            records.Date(r["entrada"]),
			Pagamento:          records.Date(r["pagamento"]),
			Baixa:              records.Date(r["baixa"]),
			Registro:           records.Timestamp(r["registro"]),
			Historico:          records.Text(r["historico"]),
			CodigoBarras:       records.Text(r["codigo_barras"]),
			CodigoDigitado:     records.Text(r["codigo_digitado"]),
		})
	}
	return out, nil
}
