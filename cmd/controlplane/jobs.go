package main

import (
	"context"
	"time"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/service"
)

const sweepBatch = 200

type jobs struct {
	svc    *service.Service
	logger types.Logger
	clock  types.Clock
}

func newJobs(svc *service.Service, logger types.Logger) *jobs {
	return &jobs{svc: svc, logger: logger, clock: types.SystemClock{}}
}

// pruneSystemLogs deletes operational entries older than the retention
// window. The audit ledger is never pruned.
func (j *jobs) pruneSystemLogs(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := j.clock.Now().Add(-retention)
	removed, err := j.svc.SystemLog().Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error("system log prune failed", err, "cutoff", cutoff)
		return
	}
	if removed > 0 {
		j.logger.Info("system logs pruned", "removed", removed, "cutoff", cutoff)
	}
}

// applyDueChanges promotes scheduled plan changes whose period has ended.
func (j *jobs) applyDueChanges(ctx context.Context) {
	result := &command.ApplyDueChangesResult{}
	err := j.svc.Commands().ApplyDueChanges.Execute(ctx, command.ApplyDueChangesInput{
		Now:    j.clock.Now(),
		Limit:  sweepBatch,
		Result: result,
	})
	if err != nil {
		j.logger.Error("plan change sweep failed", err)
		return
	}
	for id, failure := range result.Failed {
		j.logger.Error("plan change apply failed", failure, "subscription_id", id.String())
	}
	if len(result.Applied) > 0 {
		j.logger.Info("plan changes applied", "applied", len(result.Applied), "skipped", len(result.Skipped))
	}
}

// every runs fn on each tick until ctx is done. A non-positive interval
// disables the job.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
