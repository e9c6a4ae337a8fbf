package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"erpsync/internal/config"
	"erpsync/internal/pipeline"
)

var loadModes = []string{string(pipeline.FullReplace), string(pipeline.Upsert), string(pipeline.UpsertByUnit)}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var skipEnv bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and connection settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(cmd)
			if err != nil {
				return err
			}

			issues := config.ValidateFile(a.cfg, pipeline.Names(), loadModes)
			if !skipEnv {
				for _, prefix := range []string{a.cfg.SourceEnv, a.cfg.TargetEnv} {
					db, err := config.DBFromEnv(prefix)
					if err == nil {
						err = db.Validate()
					}
					if err != nil {
						issues = append(issues, config.Issue{Severity: config.SeverityError, Path: "env." + prefix, Message: err.Error()})
					}
				}
			}

			if err := renderIssues(a.out, a.opts.Output, issues); err != nil {
				return err
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("configuration is invalid: %s", opts.ConfigPath)
			}
			a.log.WithField("config", opts.ConfigPath).Info("configuration is valid")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipEnv, "skip-env", false, "do not check database environment variables")
	return cmd
}
