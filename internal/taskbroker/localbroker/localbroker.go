// Package localbroker implements the Task Broker as an in-process
// bounded worker pool backed by the durable query_jobs table, for the
// single-process deployment mode this service supports in place of
// Temporal. It polls the same jobqueue.QueryJobRepo the Temporal
// worker would use for its own crash-recovery bookkeeping, using a
// ticker-driven claim loop over a fixed-size worker semaphore.
package localbroker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticefort/dp-query-service/internal/data/repos/jobqueue"
	"github.com/latticefort/dp-query-service/internal/dpbackend"
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
	"github.com/latticefort/dp-query-service/internal/taskbroker"
)

// classifyExecuteError maps a Querier.Execute error to the TB job
// state machine's two failure terminals: a classified EXTERNAL_LIB
// error is a confirmed no-effect backend refusal (LIB_FAIL, eligible
// for compensation), anything else is treated conservatively as an
// INTERNAL_FAIL the engine must not compensate.
func classifyExecuteError(err error) domain.JobStatus {
	if apiErr := apierr.As(err); apiErr != nil && apiErr.Code == apierr.CodeExternalLib {
		return domain.JobLibFail
	}
	return domain.JobInternalFail
}

const (
	pollInterval = 200 * time.Millisecond
	staleRunning = 2 * time.Minute
)

type Broker struct {
	jobs     jobqueue.QueryJobRepo
	registry *dpbackend.Registry
	cache    *dcc.Cache
	log      *logger.Logger

	mu      sync.Mutex
	waiters map[uuid.UUID]chan taskbroker.JobReply

	workers int
	sem     chan struct{}
}

func New(jobs jobqueue.QueryJobRepo, registry *dpbackend.Registry, cache *dcc.Cache, workers int, log *logger.Logger) *Broker {
	if workers <= 0 {
		workers = 4
	}
	return &Broker{
		jobs:     jobs,
		registry: registry,
		cache:    cache,
		log:      log.With("component", "LocalTaskBroker"),
		waiters:  make(map[uuid.UUID]chan taskbroker.JobReply),
		workers:  workers,
		sem:      make(chan struct{}, workers),
	}
}

func (b *Broker) Enqueue(ctx context.Context, req taskbroker.JobRequest) (<-chan taskbroker.JobReply, error) {
	record := &domain.QueryJobRecord{
		ID:               req.JobID,
		UserName:         req.UserName,
		DatasetName:      req.DatasetName,
		LibraryTag:       req.LibraryTag,
		Payload:          req.Payload,
		RequestedEpsilon: req.RequestedCost.Epsilon,
		RequestedDelta:   req.RequestedCost.Delta,
		MeasuredEpsilon:  req.MeasuredCost.Epsilon,
		MeasuredDelta:    req.MeasuredCost.Delta,
		Status:           domain.JobQueued,
		SubmitTS:         time.Now(),
	}
	if _, err := b.jobs.Create(dbctx.Context{Ctx: ctx}, record); err != nil {
		return nil, err
	}

	ch := make(chan taskbroker.JobReply, 1)
	b.mu.Lock()
	b.waiters[req.JobID] = ch
	b.mu.Unlock()
	return ch, nil
}

func (b *Broker) BacklogDepth(ctx context.Context) (int64, error) {
	return b.jobs.CountBacklog(dbctx.Context{Ctx: ctx})
}

// Run drives the worker pool until ctx is cancelled: each tick claims
// at most one job per free semaphore slot, so the pool never exceeds
// its configured concurrency bound.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case b.sem <- struct{}{}:
			default:
				continue
			}
			job, err := b.jobs.ClaimNext(dbctx.Context{Ctx: ctx}, staleRunning)
			if err != nil {
				b.log.Warn("claim next job failed", "error", err.Error())
				<-b.sem
				continue
			}
			if job == nil {
				<-b.sem
				continue
			}
			go func() {
				defer func() { <-b.sem }()
				b.process(ctx, job)
			}()
		}
	}
}

func (b *Broker) process(ctx context.Context, job *domain.QueryJobRecord) {
	reply := b.execute(ctx, job)
	updates := map[string]interface{}{
		"status": reply.Status,
	}
	if reply.ErrorMessage != "" {
		updates["error_message"] = reply.ErrorMessage
	}
	if resultBytes, err := json.Marshal(reply.Result); err == nil {
		updates["result"] = resultBytes
	}
	if _, err := b.jobs.UpdateFieldsUnlessTerminal(dbctx.Context{Ctx: ctx}, job.ID, updates); err != nil {
		b.log.Warn("update job terminal status failed", "job_id", job.ID.String(), "error", err.Error())
	}

	b.mu.Lock()
	ch, ok := b.waiters[job.ID]
	delete(b.waiters, job.ID)
	b.mu.Unlock()
	if ok {
		ch <- reply
		close(ch)
	}
}

func (b *Broker) execute(ctx context.Context, job *domain.QueryJobRecord) taskbroker.JobReply {
	querier, ok := b.registry.Get(job.LibraryTag)
	if !ok {
		return taskbroker.JobReply{JobID: job.ID, Status: domain.JobInternalFail, ErrorMessage: "no querier registered for library tag " + string(job.LibraryTag)}
	}

	conn, release, err := b.cache.Acquire(ctx, job.DatasetName)
	if err != nil {
		return taskbroker.JobReply{JobID: job.ID, Status: domain.JobInternalFail, ErrorMessage: err.Error()}
	}
	defer release()
	view, err := conn.AsTabular(ctx)
	if err != nil {
		return taskbroker.JobReply{JobID: job.ID, Status: domain.JobInternalFail, ErrorMessage: err.Error()}
	}

	result, err := querier.Execute(ctx, view, job.Payload)
	if err != nil {
		return taskbroker.JobReply{JobID: job.ID, Status: classifyExecuteError(err), ErrorMessage: err.Error()}
	}
	return taskbroker.JobReply{JobID: job.ID, Status: domain.JobOK, Result: result}
}
