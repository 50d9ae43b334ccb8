package jobs

import (
	"context"
	"log"
	"time"

	"github.com/pixel-hosting/dtr/internal/metrics"
)

type Ledger interface {
	SweepExpiredBans(now time.Time) []string
}

type AuditStore interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner hosts the background maintenance loops. They run inside the API
// process because the expiry sweep needs the in-memory ledger.
type Runner struct {
	ledger         Ledger
	audit          AuditStore
	sweepInterval  time.Duration
	auditRetention time.Duration
}

type Options struct {
	// SweepInterval between temp-ban expiry sweeps; 0 disables the sweep.
	SweepInterval time.Duration
	// AuditRetention is how long audit rows are kept.
	AuditRetention time.Duration
}

// NewRunner wires the jobs. audit may be nil when the audit trail is
// disabled.
func NewRunner(ledger Ledger, audit AuditStore, opts Options) *Runner {
	return &Runner{
		ledger:         ledger,
		audit:          audit,
		sweepInterval:  opts.SweepInterval,
		auditRetention: opts.AuditRetention,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.sweepInterval > 0 {
		go r.runEvery(ctx, "temp_ban_expiry_sweep", r.sweepInterval, r.sweepExpiredBans)
	}
	if r.audit != nil && r.auditRetention > 0 {
		go r.runEvery(ctx, "audit_retention_prune", 1*time.Hour, r.pruneAudit)
	}
}

func (r *Runner) sweepExpiredBans(_ context.Context) error {
	removed := r.ledger.SweepExpiredBans(time.Now())
	if len(removed) > 0 {
		metrics.ExpiredBansSweptTotal.Add(float64(len(removed)))
		log.Printf("event=temp_bans_expired count=%d user_ids=%v", len(removed), removed)
	}
	return nil
}

func (r *Runner) pruneAudit(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.auditRetention)
	n, err := r.audit.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("event=audit_rows_pruned count=%d cutoff=%s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	dur := time.Since(start)
	metrics.JobDuration.WithLabelValues(name).Observe(dur.Seconds())
	if err != nil {
		log.Printf("metric=job_run name=%s status=error duration_ms=%d err=%q", name, dur.Milliseconds(), err.Error())
		metrics.JobRunsTotal.WithLabelValues(name, "error").Inc()
		return
	}
	log.Printf("metric=job_run name=%s status=ok duration_ms=%d", name, dur.Milliseconds())
	metrics.JobRunsTotal.WithLabelValues(name, "ok").Inc()
}
