// Package reconciler runs reconciliations end to end: reading both ledgers,
// normalizing and matching them, merging with the reviewer's prior table and
// writing the result.
//
// A single run goes through ReconciliationService.ProcessReconciliation.
// Several configured profiles are run in one go by the orchestrator:
//
//	orchestrator, _ := reconciler.NewReconciliationOrchestrator(service)
//	orchestrator.AddProgressCallback(func(p *reconciler.BatchProgress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentJob)
//	})
//	results, err := orchestrator.RunAll(ctx, jobs)
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// ReconciliationJob is one named request of a batch
type ReconciliationJob struct {
	Name    string
	Request *ReconciliationRequest
}

// JobResult is the outcome of one job. Exactly one of Result and Err is set.
type JobResult struct {
	Name   string
	Result *ReconciliationResult
	Err    error
}

// BatchProgress tracks a batch run
type BatchProgress struct {
	TotalJobs       int           `json:"total_jobs"`
	CompletedJobs   int           `json:"completed_jobs"`
	FailedJobs      int           `json:"failed_jobs"`
	CurrentJob      string        `json:"current_job"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called after each job starts and finishes
type ProgressCallback func(*BatchProgress)

// ReconciliationOrchestrator runs several jobs one after another. A failing
// job is reported and the batch moves on.
type ReconciliationOrchestrator struct {
	service *ReconciliationService
	logger  logger.Logger

	progressCallbacks []ProgressCallback
	progress          BatchProgress
	progressMutex     sync.RWMutex
}

// NewReconciliationOrchestrator creates a new reconciliation orchestrator
func NewReconciliationOrchestrator(service *ReconciliationService) (*ReconciliationOrchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_service", nil, nil).
			WithSuggestion("Provide a valid ReconciliationService instance")
	}
	return &ReconciliationOrchestrator{
		service: service,
		logger:  logger.GetGlobalLogger().WithComponent("orchestrator"),
	}, nil
}

// AddProgressCallback adds a progress callback function
func (ro *ReconciliationOrchestrator) AddProgressCallback(callback ProgressCallback) {
	ro.progressCallbacks = append(ro.progressCallbacks, callback)
}

// GetProgress returns a snapshot of the batch progress
func (ro *ReconciliationOrchestrator) GetProgress() BatchProgress {
	ro.progressMutex.RLock()
	defer ro.progressMutex.RUnlock()
	return ro.progress
}

// RunAll processes jobs in order. It only returns an error when ctx is
// cancelled; the jobs not yet started are then missing from the results.
func (ro *ReconciliationOrchestrator) RunAll(ctx context.Context, jobs []ReconciliationJob) ([]*JobResult, error) {
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "reconcile_all",
		Total:     int64(len(jobs)),
		Logger:    ro.logger,
	})
	defer tracker.Complete()

	ro.progressMutex.Lock()
	ro.progress = BatchProgress{TotalJobs: len(jobs), StartTime: time.Now()}
	ro.progressMutex.Unlock()

	results := make([]*JobResult, 0, len(jobs))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, errors.ReconciliationError(errors.CodeCancelled, "reconcile_all", err)
		}

		ro.update(func(p *BatchProgress) { p.CurrentJob = job.Name })

		log := ro.logger.WithField("job", job.Name)
		log.Info("Starting job")

		result, err := ro.service.ProcessReconciliation(ctx, job.Request)
		results = append(results, &JobResult{Name: job.Name, Result: result, Err: err})
		stats := tracker.Increment(err != nil)

		if err != nil {
			log.WithError(err).Error("Job failed")
		} else {
			log.WithField("rows", result.Summary.TotalRows).Info("Job finished")
		}

		ro.update(func(p *BatchProgress) {
			p.CompletedJobs = int(stats.Current)
			p.FailedJobs = int(stats.Failed)
		})
	}

	ro.update(func(p *BatchProgress) { p.CurrentJob = "" })
	return results, nil
}

func (ro *ReconciliationOrchestrator) update(fn func(*BatchProgress)) {
	ro.progressMutex.Lock()
	fn(&ro.progress)
	p := &ro.progress
	if p.TotalJobs > 0 {
		p.PercentComplete = float64(p.CompletedJobs) / float64(p.TotalJobs) * 100
	}
	p.ElapsedTime = time.Since(p.StartTime)
	snapshot := *p
	ro.progressMutex.Unlock()

	for _, callback := range ro.progressCallbacks {
		callback(&snapshot)
	}
}
