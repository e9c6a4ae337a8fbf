package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"erpsync/internal/pipeline"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run one pipeline",
		Long: `Run one pipeline by name.

Incremental pipelines (load: upsert_by_unit) process every missing date and
report each one; a failed date does not stop the run. Other pipelines sync
the whole source result. --filter binds the pipeline's filter parameter
(notas_fiscais: data_emissao, YYYY-MM-DD).`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: pipeline.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			stopMetrics := a.startMetrics(cmd.Context())
			defer stopMetrics()

			settings, err := a.settings(args[0])
			if err != nil {
				return err
			}
			source, target, closeAll, err := a.openBoth(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			job, err := pipeline.NewJob(args[0], settings, source, target, a.log)
			if err != nil {
				return err
			}
			rep, err := job.Run(cmd.Context(), filter)
			if rerr := renderReports(a.out, a.opts.Output, []pipeline.JobResult{{Report: rep, Err: err}}); rerr != nil {
				return rerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "filter value bound to the pipeline's filter parameter")
	return cmd
}

func newRunAllCommand(opts *rootOptions) *cobra.Command {
	var skipAttachments bool

	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Run every configured pipeline, then export attachments",
		Long: `Run every configured pipeline in order (vendas_daily, notas_fiscais,
catalogo, contas_a_pagar, movimentacao_estoque), then export pending invoice
XML files when attachments are configured. A failing pipeline is reported
and the next one still runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			stopMetrics := a.startMetrics(cmd.Context())
			defer stopMetrics()

			source, target, closeAll, err := a.openBoth(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			var jobs []pipeline.Job
			for _, name := range pipeline.Names() {
				if _, ok := a.cfg.Pipelines[name]; !ok {
					a.log.WithField("pipeline", name).Warn("pipeline not configured, skipping")
					continue
				}
				settings, err := a.settings(name)
				if err != nil {
					return err
				}
				job, err := pipeline.NewJob(name, settings, source, target, a.log)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
			}

			results := pipeline.RunAll(cmd.Context(), jobs, a.log)
			if err := renderReports(a.out, a.opts.Output, results); err != nil {
				return err
			}

			if !skipAttachments && a.attachmentsConfigured() {
				st, err := a.syncAttachments(cmd.Context(), target, nil)
				if err != nil {
					a.log.WithError(err).Error("attachment export failed")
				} else if err := renderStats(a.out, a.opts.Output, st); err != nil {
					return err
				}
			}

			var failed int
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipAttachments, "skip-attachments", false, "do not export attachments after the pipelines")
	return cmd
}
