package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"erpsync/internal/pipeline"
	"erpsync/internal/probe"
	"erpsync/internal/storage"
)

func newProbeCommand(opts *rootOptions) *cobra.Command {
	var (
		rows   int
		params map[string]string
	)

	cmd := &cobra.Command{
		Use:   "probe <pipeline>",
		Short: "Profile a pipeline's extract without writing",
		Long: `Run a pipeline's extract query and transform against the source, then
report per-column fill, distinct counts and value kinds, whether the
configured unique columns hold, and which columns could serve as a key.

Query parameters are bound with --param (e.g. --param data=2024-03-01).
The target database is not touched.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: pipeline.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			settings, err := a.settings(args[0])
			if err != nil {
				return err
			}
			source, err := a.open(cmd.Context(), a.cfg.SourceEnv)
			if err != nil {
				return err
			}
			defer source.Close()

			// probe never loads, so the source also stands in for the target
			job, err := pipeline.NewJob(args[0], settings, source, source, a.log)
			if err != nil {
				return err
			}
			p := storage.Params{}
			for k, v := range params {
				p[k] = v
			}
			rep, err := job.Probe(cmd.Context(), p, rows)
			if err != nil {
				return err
			}
			return renderProfile(a.out, a.opts.Output, rep)
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 1000, "maximum source rows to profile (0 = all)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "query parameter as name=value (repeatable)")
	return cmd
}

func renderProfile(w io.Writer, format string, rep probe.Report) error {
	if format == "json" {
		return writeJSON(w, rep)
	}
	_, err := fmt.Fprintln(w, rep.String())
	return err
}
