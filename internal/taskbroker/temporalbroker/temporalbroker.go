// Package temporalbroker implements the Task Broker atop a Temporal
// workflow: one workflow execution per job, backing horizontal worker
// scaling, preferring an external broker over direct in-process
// dispatch.
package temporalbroker

import (
	"context"
	"encoding/json"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/latticefort/dp-query-service/internal/data/repos/jobqueue"
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
	"github.com/latticefort/dp-query-service/internal/taskbroker"
	"github.com/latticefort/dp-query-service/internal/temporalx"
)

type Broker struct {
	client    temporalsdkclient.Client
	taskQueue string
	jobs      jobqueue.QueryJobRepo
	log       *logger.Logger
}

func New(client temporalsdkclient.Client, taskQueue string, jobs jobqueue.QueryJobRepo, log *logger.Logger) *Broker {
	return &Broker{client: client, taskQueue: taskQueue, jobs: jobs, log: log.With("component", "TemporalTaskBroker")}
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
	}
	if _, err := b.jobs.Create(dbctx.Context{Ctx: ctx}, record); err != nil {
		return nil, err
	}

	wfReq := temporalx.DispatchRequest{
		JobID:       req.JobID.String(),
		UserName:    req.UserName,
		DatasetName: req.DatasetName,
		LibraryTag:  req.LibraryTag,
		Payload:     req.Payload,
	}

	run, err := b.client.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        "query-job-" + req.JobID.String(),
		TaskQueue: b.taskQueue,
	}, temporalx.WorkflowName, wfReq)
	if err != nil {
		return nil, err
	}

	ch := make(chan taskbroker.JobReply, 1)
	go func() {
		defer close(ch)
		var wfReply temporalx.DispatchReply
		var reply taskbroker.JobReply
		// A cancelled or timed-out request must not cancel the wait for
		// the workflow's result: the workflow keeps running server-side
		// regardless of what happens to the HTTP request that started
		// it, so run.Get uses a context independent of the caller's.
		// The workflow itself never returns an error (it downgrades
		// activity failures to an INTERNAL_FAIL reply), so a non-nil
		// error here means Temporal could not deliver the result at
		// all (worker crash, deadline). The engine's admission contract
		// treats that identically to INTERNAL_FAIL: no compensation.
		if err := run.Get(context.Background(), &wfReply); err != nil {
			reply = taskbroker.JobReply{JobID: req.JobID, Status: domain.JobInternalFail, ErrorMessage: err.Error()}
		} else {
			reply = taskbroker.JobReply{JobID: req.JobID, Status: wfReply.Status, Result: wfReply.Result, ErrorMessage: wfReply.ErrorMessage}
		}

		updates := map[string]interface{}{"status": reply.Status}
		if reply.ErrorMessage != "" {
			updates["error_message"] = reply.ErrorMessage
		}
		if resultBytes, err := json.Marshal(reply.Result); err == nil {
			updates["result"] = resultBytes
		}
		if _, err := b.jobs.UpdateFieldsUnlessTerminal(dbctx.Context{Ctx: context.Background()}, req.JobID, updates); err != nil {
			b.log.Warn("update job terminal status failed", "job_id", req.JobID.String(), "error", err.Error())
		}

		ch <- reply
	}()
	return ch, nil
}

func (b *Broker) BacklogDepth(ctx context.Context) (int64, error) {
	return b.jobs.CountBacklog(dbctx.Context{Ctx: ctx})
}
