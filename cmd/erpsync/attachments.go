package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"erpsync/internal/attachments"
	"erpsync/internal/config"
	"erpsync/internal/storage"
)

func newAttachmentsCommand(opts *rootOptions) *cobra.Command {
	var keys []string

	cmd := &cobra.Command{
		Use:   "attachments",
		Short: "Export pending invoice XML files",
		Long: `Export invoice XML payloads stored in the target database, one file
(or object) per access key. Without --key the pending-keys query decides
what to export; with --key only the given keys are exported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if !a.attachmentsConfigured() {
				return fmt.Errorf("%w: attachments.pending_query and attachments.fetch_query are required", config.ErrConfig)
			}
			stopMetrics := a.startMetrics(cmd.Context())
			defer stopMetrics()

			target, err := a.open(cmd.Context(), a.cfg.TargetEnv)
			if err != nil {
				return err
			}
			defer target.Close()

			st, err := a.syncAttachments(cmd.Context(), target, keys)
			if err != nil {
				return err
			}
			return renderStats(a.out, a.opts.Output, st)
		},
	}
	cmd.Flags().StringSliceVar(&keys, "key", nil, "export only these access keys (repeatable)")
	return cmd
}

func (a *app) attachmentsConfigured() bool {
	return a.cfg.Attachments.PendingQuery != "" && a.cfg.Attachments.FetchQuery != ""
}

func (a *app) syncAttachments(ctx context.Context, target storage.Repository, keys []string) (attachments.Stats, error) {
	ac := a.cfg.Attachments
	q := config.Queries{Dir: a.cfg.QueriesDir}
	pending, err := q.Load(ac.PendingQuery)
	if err != nil {
		return attachments.Stats{}, err
	}
	fetch, err := q.Load(ac.FetchQuery)
	if err != nil {
		return attachments.Stats{}, err
	}
	sink, err := a.sink()
	if err != nil {
		return attachments.Stats{}, err
	}

	s := attachments.New(target, sink, attachments.Options{
		PendingQuery:  pending,
		FetchQuery:    fetch,
		Extension:     ac.Extension,
		Workers:       ac.Workers,
		RatePerSecond: ac.RatePerSecond,
		Logger:        a.log,
	})
	if len(keys) > 0 {
		return s.SyncKeys(ctx, keys), nil
	}
	return s.RunSync(ctx)
}

func (a *app) sink() (attachments.Sink, error) {
	ac := a.cfg.Attachments
	switch ac.Sink {
	case "", "file":
		return attachments.NewFileSink(afero.NewOsFs(), ac.Dir)
	case "s3":
		return attachments.NewObjectSink(attachments.S3Options{
			Endpoint:  ac.S3.Endpoint,
			Bucket:    ac.S3.Bucket,
			Prefix:    ac.S3.Prefix,
			AccessKey: firstNonEmpty(ac.S3.AccessKey, os.Getenv("S3_ACCESS_KEY")),
			SecretKey: firstNonEmpty(ac.S3.SecretKey, os.Getenv("S3_SECRET_KEY")),
			UseSSL:    ac.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("%w: unknown attachments sink %q", config.ErrConfig, ac.Sink)
	}
}
