// Package attachments exports invoice XML payloads stored in the destination
// database to a file directory or an object store, one object per key.
package attachments

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"erpsync/internal/discover"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/records"
	"erpsync/internal/storage"
)

const (
	keyColumn     = "chave"
	payloadColumn = "arquivo_xml"
)

// Options configures a Syncer.
type Options struct {
	// PendingQuery returns the keys still to export (column chave, or the
	// first column).
	PendingQuery string
	// FetchQuery returns the payload of the key bound to @chave (column
	// arquivo_xml, or the first column).
	FetchQuery string
	// Extension of stored objects, without the dot. Defaults to "xml".
	Extension string
	// Workers > 1 exports keys concurrently.
	Workers int
	// RatePerSecond > 0 caps payload fetches per second.
	RatePerSecond float64
	Logger        log.FieldLogger
}

// Stats counts one export run.
type Stats struct {
	Total   int   `json:"total"`
	Success int   `json:"success"`
	Failed  int   `json:"failed"`
	Bytes   int64 `json:"bytes"`
}

// Syncer exports attachments from repo to sink.
type Syncer struct {
	repo    discover.Querier
	sink    Sink
	opts    Options
	limiter *rate.Limiter
	log     log.FieldLogger
	bytes   atomic.Int64
}

// New returns a Syncer.
func New(repo discover.Querier, sink Sink, opts Options) *Syncer {
	if opts.Extension == "" {
		opts.Extension = "xml"
	}
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	s := &Syncer{
		repo: repo,
		sink: sink,
		opts: opts,
		log:  logging.OrDiscard(opts.Logger).WithField("stage", "attachments"),
	}
	if opts.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return s
}

// DiscoverPendingKeys runs the pending-keys query. Null keys are dropped.
func (s *Syncer) DiscoverPendingKeys(ctx context.Context) ([]string, error) {
	if s.opts.PendingQuery == "" {
		return nil, fmt.Errorf("attachments: no pending-keys query configured")
	}
	start := time.Now()
	set, err := s.repo.Query(ctx, s.opts.PendingQuery, nil)
	metrics.Step("attachments", "discover", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("discover pending attachments: %w", err)
	}

	col := pick(set, keyColumn)
	keys := make([]string, 0, set.Len())
	for _, r := range set.Records {
		if k := records.Text(r[col]); k != nil {
			keys = append(keys, *k)
		}
	}
	s.log.WithField("keys", len(keys)).Info("pending attachments discovered")
	return keys, nil
}

// FetchAndStore exports one key. It reports false, and logs why, when the
// key has no payload, the fetch fails or the sink rejects the write.
func (s *Syncer) FetchAndStore(ctx context.Context, key string) bool {
	l := s.log.WithField("key", key)

	name, err := s.objectName(key)
	if err != nil {
		l.WithError(err).Error("invalid attachment key")
		return false
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			l.WithError(err).Error("attachment fetch not started")
			return false
		}
	}

	set, err := s.repo.Query(ctx, s.opts.FetchQuery, storage.Params{keyColumn: key})
	if err != nil {
		l.WithError(err).Error("attachment fetch failed")
		return false
	}
	var payload []byte
	if !set.Empty() {
		payload = records.Bytes(set.Records[0][pick(set, payloadColumn)])
	}
	if len(payload) == 0 {
		l.Warn("no attachment payload for key")
		return false
	}

	if err := s.sink.Put(ctx, name, payload); err != nil {
		l.WithError(err).Error("attachment write failed")
		return false
	}
	s.bytes.Add(int64(len(payload)))
	l.WithFields(log.Fields{"size": humanize.Bytes(uint64(len(payload))), "location": s.sink.Location(name)}).Debug("attachment stored")
	return true
}

// RunSync discovers pending keys and exports each. Only discovery errors are
// returned; per-key failures are counted in Stats.
func (s *Syncer) RunSync(ctx context.Context) (Stats, error) {
	keys, err := s.DiscoverPendingKeys(ctx)
	if err != nil {
		return Stats{}, err
	}
	if len(keys) == 0 {
		s.log.Info("no attachments pending")
		return Stats{}, nil
	}
	return s.SyncKeys(ctx, keys), nil
}

// SyncKeys exports the given keys regardless of their pending state. Keys
// not yet started when ctx is cancelled count as failed.
func (s *Syncer) SyncKeys(ctx context.Context, keys []string) Stats {
	start := time.Now()
	s.bytes.Store(0)
	var success, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(1, s.opts.Workers))
	for i, key := range keys {
		if ctx.Err() != nil {
			failed.Add(1)
			metrics.Attachment("failed")
			continue
		}
		s.log.WithFields(log.Fields{"key": key, "n": i + 1, "of": len(keys)}).Debug("exporting attachment")
		g.Go(func() error {
			if s.FetchAndStore(ctx, key) {
				success.Add(1)
				metrics.Attachment("success")
			} else {
				failed.Add(1)
				metrics.Attachment("failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	st := Stats{
		Total:   len(keys),
		Success: int(success.Load()),
		Failed:  int(failed.Load()),
		Bytes:   s.bytes.Load(),
	}
	s.log.WithFields(log.Fields{
		"total":    st.Total,
		"success":  st.Success,
		"failed":   st.Failed,
		"size":     humanize.Bytes(uint64(st.Bytes)),
		"duration": logging.Since(start),
	}).Info("attachment export finished")
	return st
}

// objectName rejects keys that would escape the sink's directory.
func (s *Syncer) objectName(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || filepath.Base(key) != key {
		return "", fmt.Errorf("attachments: unusable key %q", key)
	}
	return key + "." + s.opts.Extension, nil
}

// pick returns want if the set has it, else the first column.
func pick(set records.Set, want string) string {
	if set.Has(want) || len(set.Columns) == 0 {
		return want
	}
	return set.Columns[0]
}
