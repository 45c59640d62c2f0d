// Package analytics implements the job status query: the merge of cached run
// records with live task-ledger inspection, including the degradation rules
// for an unreachable execution layer.
package analytics

import (
	"context"
	"log/slog"

	"orderpulse/internal/aggregator"
	"orderpulse/internal/taskq"
	"orderpulse/internal/types"
)

// StatusReader reads cached job run records. A nil record with nil error
// means no record is cached for that job.
type StatusReader interface {
	Get(ctx context.Context, jobName string) (*types.JobStatus, error)
}

// TaskInspector reads the live task lists.
type TaskInspector interface {
	Snapshot(ctx context.Context) (taskq.TaskSnapshot, error)
}

// JobStatusService merges cached job statuses with live task inspection.
type JobStatusService struct {
	statuses  StatusReader
	inspector TaskInspector
	logger    *slog.Logger
}

// NewJobStatusService creates a new JobStatusService.
func NewJobStatusService(statuses StatusReader, inspector TaskInspector, logger *slog.Logger) *JobStatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStatusService{
		statuses:  statuses,
		inspector: inspector,
		logger:    logger,
	}
}

// Report returns the merged job status view. With an empty jobName all known
// jobs are reported; a named job must be known, and must have either a cached
// record or a live task, otherwise the result is not_found.
//
// Degradation rules: an unreachable task ledger yields empty task lists and a
// warning, never a request failure. An unreachable status cache fails a
// single-job query (the caller asked about that job specifically) but only
// degrades a list-all query to an empty jobs map.
func (s *JobStatusService) Report(ctx context.Context, jobName string) (*types.JobStatusReport, error) {
	var names []string
	singleJob := jobName != ""
	if singleJob {
		if !isKnownJob(jobName) {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeNotFoundJob,
				"unknown job name",
				nil,
				map[string]any{"job_name": jobName},
			)
		}
		names = []string{jobName}
	} else {
		names = types.KnownJobNames()
	}

	snapshot, snapErr := s.inspector.Snapshot(ctx)
	if snapErr != nil {
		s.logger.WarnContext(ctx, "task inspection unavailable, degrading to empty task lists",
			"error", snapErr,
		)
		snapshot = taskq.TaskSnapshot{}
	}

	jobs := make(map[string]types.JobStatus, len(names))
	for _, name := range names {
		status, err := s.statuses.Get(ctx, name)
		if err != nil {
			if singleJob {
				return nil, err
			}
			s.logger.WarnContext(ctx, "job status cache unavailable, degrading to empty jobs",
				"job", name,
				"error", err,
			)
			continue
		}
		if status != nil {
			jobs[name] = *status
		}
	}

	report := &types.JobStatusReport{
		Jobs:           jobs,
		ActiveTasks:    emptyIfNil(snapshot.Active),
		ScheduledTasks: emptyIfNil(snapshot.Scheduled),
	}

	if singleJob {
		if _, cached := jobs[jobName]; !cached {
			task := taskForJob(report, jobName)
			if task == nil {
				return nil, types.NewAppErrorWithDetails(
					types.ErrCodeNotFoundJob,
					"no status recorded for job",
					nil,
					map[string]any{"job_name": jobName},
				)
			}
			// No cached run yet, but a live task is in flight: report it as
			// a minimal queued record.
			jobs[jobName] = types.JobStatus{
				Status:    types.JobStateQueued,
				UpdatedAt: task.QueuedAt,
			}
		}
	}

	return report, nil
}

func isKnownJob(name string) bool {
	for _, known := range types.KnownJobNames() {
		if name == known {
			return true
		}
	}
	return false
}

// taskForJob returns the first live task belonging to the named job, active
// tasks first, or nil. Task names carry the task type, which maps onto exactly
// one job.
func taskForJob(report *types.JobStatusReport, jobName string) *types.TaskInfo {
	for i, task := range report.ActiveTasks {
		if aggregator.TaskType(task.Name).JobName() == jobName {
			return &report.ActiveTasks[i]
		}
	}
	for i, task := range report.ScheduledTasks {
		if aggregator.TaskType(task.Name).JobName() == jobName {
			return &report.ScheduledTasks[i]
		}
	}
	return nil
}

func emptyIfNil(tasks []types.TaskInfo) []types.TaskInfo {
	if tasks == nil {
		return []types.TaskInfo{}
	}
	return tasks
}
