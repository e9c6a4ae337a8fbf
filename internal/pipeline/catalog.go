package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	"erpsync/internal/discover"
	"erpsync/internal/logging"
	"erpsync/internal/probe"
	"erpsync/internal/storage"
	"erpsync/internal/transform"
)

// Pipeline names, as used in the config file and on the command line.
const (
	SalesPipeline          = "vendas_daily"
	InvoicesPipeline       = "notas_fiscais"
	CatalogPipeline        = "catalogo"
	PayablesPipeline       = "contas_a_pagar"
	StockMovementsPipeline = "movimentacao_estoque"
)

// Names returns every pipeline in run-all order.
func Names() []string {
	return slices.Clone(runOrder)
}

var runOrder = []string{
	SalesPipeline,
	InvoicesPipeline,
	CatalogPipeline,
	PayablesPipeline,
	StockMovementsPipeline,
}

var (
	SalesDescriptor = Descriptor[transform.Sale]{
		Name:       SalesPipeline,
		Transform:  transform.Sales,
		Mode:       UpsertByUnit,
		Table:      "fato_vendas_diarias",
		Schema:     "public",
		UniqueKeys: transform.SaleKeys,
		UnitParam:  "data",
	}

	InvoicesDescriptor = Descriptor[transform.Invoice]{
		Name:        InvoicesPipeline,
		Transform:   transform.Invoices,
		Mode:        Upsert,
		Table:       "report_uniplus_notas_fiscais",
		Schema:      "public",
		UniqueKeys:  transform.InvoiceKeys,
		FilterParam: "data_emissao",
	}

	CatalogDescriptor = Descriptor[transform.CatalogItem]{
		Name:      CatalogPipeline,
		Transform: transform.Catalog,
		Mode:      FullReplace,
		Table:     "catalogo",
		Schema:    "public",
	}

	PayablesDescriptor = Descriptor[transform.Payable]{
		Name:       PayablesPipeline,
		Transform:  transform.Payables,
		Mode:       Upsert,
		Table:      "contas_a_pagar",
		Schema:     "public",
		UniqueKeys: transform.PayableKeys,
	}

	StockMovementsDescriptor = Descriptor[transform.StockMovement]{
		Name:       StockMovementsPipeline,
		Transform:  transform.StockMovements,
		Mode:       UpsertByUnit,
		Table:      "movimentacao_estoque",
		Schema:     "public",
		UniqueKeys: transform.StockKeys,
		UnitParam:  "data",
	}
)

// Job is a Runner with its row type erased, so pipelines can be selected by
// name at runtime.
type Job interface {
	Name() string
	Mode() Mode
	Table() string
	Run(ctx context.Context, filter string) (Report, error)
	Probe(ctx context.Context, params storage.Params, rows int) (probe.Report, error)
}

// Report is the result of Job.Run. Exactly one of Outcome and Summary is set.
type Report struct {
	Pipeline string        `json:"pipeline"`
	Mode     Mode          `json:"mode"`
	Outcome  *Outcome      `json:"outcome,omitempty"`
	Summary  *Summary      `json:"summary,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Run dispatches on the pipeline's mode: UpsertByUnit runs incrementally,
// pipelines with a filter parameter run filtered (an empty filter loads
// everything), the rest run a full sync.
func (r *Runner[T]) Run(ctx context.Context, filter string) (Report, error) {
	start := time.Now()
	rep := Report{Pipeline: r.desc.Name, Mode: r.mode}

	var err error
	switch {
	case r.mode == UpsertByUnit:
		var sum Summary
		sum, err = r.RunIncremental(ctx)
		rep.Summary = &sum
	case r.desc.FilterParam != "":
		var out Outcome
		out, err = r.RunWithFilter(ctx, filter)
		rep.Outcome = &out
	default:
		var out Outcome
		out, err = r.RunFullSync(ctx)
		rep.Outcome = &out
	}
	rep.Duration = time.Since(start)
	return rep, err
}

// NewJob builds the named pipeline from the catalog.
func NewJob(name string, s Settings, source discover.Querier, dest storage.Repository, logger log.FieldLogger) (Job, error) {
	switch name {
	case SalesPipeline:
		return NewRunner(SalesDescriptor, s, source, dest, logger), nil
	case InvoicesPipeline:
		return NewRunner(InvoicesDescriptor, s, source, dest, logger), nil
	case CatalogPipeline:
		return NewRunner(CatalogDescriptor, s, source, dest, logger), nil
	case PayablesPipeline:
		return NewRunner(PayablesDescriptor, s, source, dest, logger), nil
	case StockMovementsPipeline:
		return NewRunner(StockMovementsDescriptor, s, source, dest, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
}

// JobResult pairs a Report with the error its Job returned.
type JobResult struct {
	Report
	Err error `json:"-"`
}

// RunAll runs jobs one after another. A failing job is logged and recorded;
// the next job still runs. Jobs not started because ctx was cancelled are
// reported with ctx.Err().
func RunAll(ctx context.Context, jobs []Job, logger log.FieldLogger) []JobResult {
	l := logging.OrDiscard(logger)
	out := make([]JobResult, 0, len(jobs))
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			out = append(out, JobResult{Report: Report{Pipeline: j.Name(), Mode: j.Mode()}, Err: err})
			continue
		}
		rep, err := j.Run(ctx, "")
		if err != nil {
			l.WithError(err).WithField("pipeline", j.Name()).Error("pipeline failed, continuing with the next one")
		}
		out = append(out, JobResult{Report: rep, Err: err})
	}
	return out
}
