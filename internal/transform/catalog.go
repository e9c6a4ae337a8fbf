package transform

import "erpsync/internal/records"

// CatalogItem is one row of catalogo.
type CatalogItem struct {
	SKU               *string
	EAN               *string
	Nome              *string
	NomePDV           *string
	PrecoUltimaCompra *float64
	PrecoVenda        *float64
	Stock             *float64
}

var catalogColumns = []string{"sku", "ean", "nome", "nome_pdv", "preco_ultima_compra", "preco_venda", "stock"}

func (CatalogItem) Columns() []string { return catalogColumns }

func (c CatalogItem) Values() []any {
	return []any{
		records.Value(c.SKU), records.Value(c.EAN), records.Value(c.Nome), records.Value(c.NomePDV),
		records.Value(c.PrecoUltimaCompra), records.Value(c.PrecoVenda), records.Value(c.Stock),
	}
}

func Catalog(set records.Set) ([]CatalogItem, error) {
	set, err := prepare("catalogo", set, nil, catalogColumns)
	if err != nil {
		return nil, err
	}

	out := make([]CatalogItem, 0, set.Len())
	for _, r := range set.Records {
		out = append(out, CatalogItem{
			SKU:               records.Text(r["sku"]),
			EAN:               records.Text(r["ean"]),
			Nome:              records.Text(r["nome"]),
			NomePDV:           records.Text(r["nome_pdv"]),
			PrecoUltimaCompra: records.Float(r["preco_ultima_compra"]),
			PrecoVenda:        records.Float(r["preco_venda"]),
			Stock:             records.Float(r["stock"]),
		})
	}
	return out, nil
}
