package transform

import (
	"time"

	"erpsync/internal/records"
)

// Sale is one row of fato_vendas_diarias: a POS sale line per payment
// finalizer.
type Sale struct {
	PDV              *int64
	Filial           *int64
	Usuario          *string
	Vendedor         *string
	Emissao          *time.Time
	Hora             *string
	Documento        *string
	CCF              *string
	VBruto           *float64
	Desconto         *float64
	Acrescimo        *float64
	VVenda           *float64
	VLiquido         *float64
	Canc             *string
	Cliente          *string
	CNPJCPF          *string
	Finalizador      *string
	ValorFinalizador *float64
	HoraFinal        *string
	Troco            *float64
}

var saleColumns = []string{
	"pdv", "filial", "usuario", "vendedor", "emissao", "hora", "documento", "ccf",
	"v_bruto", "desconto", "acrescimo", "v_venda", "v_liquido", "canc", "cliente",
	"cnpj_cpf", "finalizador", "valor_finalizador", "hora_final", "troco",
}

// SaleKeys is the default unique key of fato_vendas_diarias.
var SaleKeys = []string{"filial", "pdv", "documento", "finalizador", "emissao"}

func (Sale) Columns() []string { return saleColumns }

func (s Sale) Values() []any {
	return []any{
		records.Value(s.PDV), records.Value(s.Filial), records.Value(s.Usuario), records.Value(s.Vendedor),
		records.Value(s.Emissao), records.Value(s.Hora), records.Value(s.Documento), records.Value(s.CCF),
		records.Value(s.VBruto), records.Value(s.Desconto), records.Value(s.Acrescimo), records.Value(s.VVenda),
		records.Value(s.VLiquido), records.Value(s.Canc), records.Value(s.Cliente), records.Value(s.CNPJCPF),
		records.Value(s.Finalizador), records.Value(s.ValorFinalizador), records.Value(s.HoraFinal), records.Value(s.Troco),
	}
}

var saleRenames = map[string]string{
	"valorbruto":    "v_bruto",
	"valorliquido":  "v_liquido",
	"cancelado":     "canc",
	"valortotal":    "valor_finalizador",
	"descontoitem":  "desconto",
	"acrescimoitem": "acrescimo",
	"data":          "emissao",
	"horainicial":   "hora",
	"horafinal":     "hora_final",
}

var saleRequired = []string{
	"pdv", "filial", "usuario", "v_bruto", "v_liquido", "canc", "finalizador",
	"valor_finalizador", "desconto", "acrescimo", "emissao", "hora", "troco",
	"hora_final", "serienfce", "numeronfce",
}

// Sales maps the ERP daily sales extract onto Sale rows.
//
// documento is "<serienfce>/<numeronfce>"; canc maps 0/1 to "Não"/"Sim";
// v_venda mirrors v_bruto. vendedor, ccf, cliente and cnpj_cpf are not
// provided by the source and stay NULL.
func Sales(set records.Set) ([]Sale, error) {
	set, err := prepare("vendas_daily", set, saleRenames, saleRequired)
	if err != nil {
		return nil, err
	}

	out := make([]Sale, 0, set.Len())
	for _, r := range set.Records {
		bruto := records.Float(r["v_bruto"])
		out = append(out, Sale{
			PDV:              records.Int(r["pdv"]),
			Filial:           records.Int(r["filial"]),
			Usuario:          records.Text(r["usuario"]),
			Emissao:          records.Date(r["emissao"]),
			Hora:             records.Clock(r["hora"]),
			Documento:        documento(r["serienfce"], r["numeronfce"]),
			VBruto:           bruto,
			Desconto:         records.Float(r["desconto"]),
			Acrescimo:        records.Float(r["acrescimo"]),
			VVenda:           bruto,
			VLiquido:         records.Float(r["v_liquido"]),
			Canc:             records.Label(r["canc"], "Sim", "Não"),
			Finalizador:      records.Text(r["finalizador"]),
			ValorFinalizador: records.Float(r["valor_finalizador"]),
			HoraFinal:        records.Clock(r["hora_final"]),
			Troco:            records.Float(r["troco"]),
		})
	}
	return out, nil
}

// documento is NULL only when both parts are missing; a single missing part
// renders as empty text.
func documento(serie, numero any) *string {
	s, n := records.Text(serie), records.Text(numero)
	if s == nil && n == nil {
		return nil
	}
	var ss, ns string
	if s != nil {
		ss = *s
	}
	if n != nil {
		ns = *n
	}
	return records.Ptr(ss + "/" + ns)
}
