package transform

import (
	"strings"
	"time"

	"erpsync/internal/records"
)

// Invoice is one row of report_uniplus_notas_fiscais.
type Invoice struct {
	IDUniplus      *int64
	DataEmissao    *time.Time
	Fornecedor     *string
	CPNJCPF        *string
	Valor          *float64
	Vencimento     *time.Time
	Situacao       *string
	Manifestacao   *string
	Status         *string
	Chave          *string
	DataInclusao   *time.Time
	Processed      *string
	ArquivoXML     []byte
	ArquivoXMLText *string
}

var invoiceColumns = []string{
	"id_uniplus", "data_emissao", "fornecedor", "cpnj_cpf", "valor", "vencimento",
	"situacao", "manifestacao", "status", "chave", "data_inclusao", "processed",
	"arquivo_xml", "arquivo_xml_text",
}

// InvoiceKeys is the natural key of an invoice: its access key.
var InvoiceKeys = []string{"chave"}

func (Invoice) Columns() []string { return invoiceColumns }

func (n Invoice) Values() []any {
	var xml any
	if n.ArquivoXML != nil {
		xml = n.ArquivoXML
	}
	return []any{
		records.Value(n.IDUniplus), records.Value(n.DataEmissao), records.Value(n.Fornecedor),
		records.Value(n.CPNJCPF), records.Value(n.Valor), records.Value(n.Vencimento),
		records.Value(n.Situacao), records.Value(n.Manifestacao), records.Value(n.Status),
		records.Value(n.Chave), records.Value(n.DataInclusao), records.Value(n.Processed),
		xml, records.Value(n.ArquivoXMLText),
	}
}

var invoiceRenames = map[string]string{
	"status_nfe":              "situacao",
	"situacaomanifestacao":    "manifestacao",
	"status_documento_fiscal": "status",
	"arquivoxml":              "arquivo_xml",
}

var invoiceRequired = []string{
	"id_uniplus", "data_emissao", "fornecedor", "cpnj_cpf", "valor", "vencimento",
	"situacao", "manifestacao", "status", "chave", "data_inclusao", "processed",
	"arquivo_xml",
}

// Invoices maps the ERP invoice extract onto Invoice rows. processed is
// carried as lowercase text ("false", "true"); arquivo_xml_text starts NULL.
func Invoices(set records.Set) ([]Invoice, error) {
	set, err := prepare("notas_fiscais", set, invoiceRenames, invoiceRequired)
	if err != nil {
		return nil, err
	}

	out := make([]Invoice, 0, set.Len())
	for _, r := range set.Records {
		out = append(out, Invoice{
			IDUniplus:    records.Int(r["id_uniplus"]),
			DataEmissao:  records.Date(r["data_emissao"]),
			Fornecedor:   records.Text(r["fornecedor"]),
			CPNJCPF:      records.Text(r["cpnj_cpf"]),
			Valor:        records.Float(r["valor"]),
			Vencimento:   records.Date(r["vencimento"]),
			Situacao:     records.Text(r["situacao"]),
			Manifestacao: records.Text(r["manifestacao"]),
			Status:       records.Text(r["status"]),
			Chave:        records.Text(r["chave"]),
			DataInclusao: records.Timestamp(r["data_inclusao"]),
			Processed:    lower(records.Text(r["processed"])),
			ArquivoXML:   records.Bytes(r["arquivo_xml"]),
		})
	}
	return out, nil
}

func lower(s *string) *string {
	if s == nil {
		return nil
	}
	return records.Ptr(strings.ToLower(*s))
}
