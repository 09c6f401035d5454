package workflowengine

import (
	"context"
	"fmt"
	"time"

	"github.com/cordum/blackboard/core/infra/locks"
	"github.com/cordum/blackboard/core/infra/logging"
	wf "github.com/cordum/blackboard/core/workflow"
)

const (
	instanceLeasePrefix = "workflow-engine:instance:"
	reconcilerLockKey   = "workflow-engine:reconciler"
	timelineScanLimit   = 1000
)

// reconciler advertises this instance's liveness and fails jobs whose
// owning instance stopped heartbeating.
type reconciler struct {
	jobs         JobStore
	locks        locks.Store
	runner       *Runner
	instanceID   string
	pollInterval time.Duration
	leaseTTL     time.Duration
	runScanLimit int64
	now          func() time.Time
}

func newReconciler(jobs JobStore, lockStore locks.Store, runner *Runner, instanceID string, pollInterval time.Duration) *reconciler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &reconciler{
		jobs:         jobs,
		locks:        lockStore,
		runner:       runner,
		instanceID:   instanceID,
		pollInterval: pollInterval,
		leaseTTL:     pollInterval * 3,
		runScanLimit: 200,
		now:          time.Now,
	}
}

func (r *reconciler) Start(ctx context.Context) {
	r.heartbeat(ctx)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	defer func() {
		_, _ = r.locks.Release(context.WithoutCancel(ctx), instanceLeasePrefix+r.instanceID, r.instanceID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
			ok, err := r.locks.Acquire(ctx, reconcilerLockKey, r.instanceID, r.pollInterval*2)
			if err != nil {
				logging.Error(logComponent, "reconciler lock acquisition failed", "error", err)
				continue
			}
			if !ok {
				continue
			}
			r.tick(ctx)
			_, _ = r.locks.Release(ctx, reconcilerLockKey, r.instanceID)
		}
	}
}

// heartbeat extends this instance's lease, claiming it again if it lapsed.
func (r *reconciler) heartbeat(ctx context.Context) {
	lease := instanceLeasePrefix + r.instanceID
	ok, err := r.locks.Renew(ctx, lease, r.instanceID, r.leaseTTL)
	if err == nil && !ok {
		_, err = r.locks.Acquire(ctx, lease, r.instanceID, r.leaseTTL)
	}
	if err != nil {
		logging.Warn(logComponent, "instance heartbeat failed", "instance", r.instanceID, "error", err)
	}
}

func (r *reconciler) tick(ctx context.Context) {
	for _, status := range []wf.JobStatus{wf.JobRunning, wf.JobPending} {
		ids, err := r.jobs.ListJobIDsByStatus(ctx, status, r.runScanLimit)
		if err != nil {
			logging.Error(logComponent, "list jobs", "status", status, "error", err)
			continue
		}
		for _, id := range ids {
			if r.runner != nil && r.runner.isLocal(id) {
				continue
			}
			if err := r.reconcileJob(ctx, id); err != nil {
				logging.Error(logComponent, "reconcile job", "job_id", id, "error", err)
			}
		}
	}
}

// reconcileJob fails a non-terminal job whose owner lease has expired.
func (r *reconciler) reconcileJob(ctx context.Context, id string) error {
	job, err := r.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	if job.Owner != "" {
		owner, err := r.locks.Owner(ctx, instanceLeasePrefix+job.Owner)
		if err != nil {
			return err
		}
		if owner != "" {
			return nil
		}
	} else if r.now().Sub(job.CreatedAt.Time) < r.leaseTTL {
		return nil
	}

	msg := fmt.Sprintf("orphaned: engine instance %q stopped before the run finished", job.Owner)
	done := wf.NewNaiveTime(r.now())
	job.Status = wf.JobFailed
	job.ErrorMessage = msg
	job.CompletedAt = &done
	job.UpdatedAt = done
	for stepID, st := range job.StepStatus {
		if st == wf.StepRunning {
			job.StepStatus[stepID] = wf.StepFailed
		}
	}
	if err := r.jobs.SaveJob(ctx, job); err != nil {
		return err
	}

	seq := int64(0)
	if events, err := r.jobs.ListEvents(ctx, id, timelineScanLimit); err == nil && len(events) > 0 {
		seq = events[len(events)-1].Seq
	}
	for _, evt := range []wf.Event{
		{Type: wf.EventError, Message: msg},
		{Type: wf.EventStatus, Status: wf.StatusFailed, Message: msg},
	} {
		seq++
		evt.JobID, evt.Seq, evt.Time = id, seq, done
		if err := r.jobs.AppendEvent(ctx, id, evt); err != nil {
			return err
		}
	}
	logging.Warn(logComponent, "orphaned job failed", "job_id", id, "owner", job.Owner)
	return nil
}
