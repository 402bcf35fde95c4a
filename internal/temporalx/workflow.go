package temporalx

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/latticefort/dp-query-service/internal/dpbackend"
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// classifyExecuteError maps a Querier.Execute error to a terminal job
// status; a classified EXTERNAL_LIB error is a confirmed no-effect
// backend refusal, anything else is conservatively INTERNAL_FAIL.
func classifyExecuteError(err error) domain.JobStatus {
	if apiErr := apierr.As(err); apiErr != nil && apiErr.Code == apierr.CodeExternalLib {
		return domain.JobLibFail
	}
	return domain.JobInternalFail
}

const (
	WorkflowName = "QueryDispatchWorkflow"
	ActivityName = "ExecuteQueryActivity"
)

// DispatchRequest is the workflow/activity input: the same cargo
// taskbroker.JobRequest carries, flattened for Temporal's data
// converter (interfaces on the wire are avoided).
type DispatchRequest struct {
	JobID       string
	UserName    string
	DatasetName string
	LibraryTag  domain.LibraryTag
	Payload     []byte
}

// DispatchReply mirrors taskbroker.JobReply's fields for the same
// wire-format reason.
type DispatchReply struct {
	Status       domain.JobStatus
	Result       dpbackend.Result
	ErrorMessage string
}

// Workflow runs ExecuteQueryActivity exactly once with a generous
// timeout: the retry policy allows a single attempt, so neither backend
// failures nor Temporal/transport failures are retried; a failed
// activity surfaces as an INTERNAL_FAIL reply.
func Workflow(ctx workflow.Context, req DispatchRequest) (DispatchReply, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var reply DispatchReply
	err := workflow.ExecuteActivity(ctx, ActivityName, req).Get(ctx, &reply)
	if err != nil {
		return DispatchReply{Status: domain.JobInternalFail, ErrorMessage: err.Error()}, nil
	}
	return reply, nil
}

// Activities bundles the DBR registry and DCC the ExecuteQueryActivity
// dispatches into, one instance registered per worker process.
type Activities struct {
	Registry *dpbackend.Registry
	Cache    *dcc.Cache
}

func (a *Activities) ExecuteQueryActivity(ctx context.Context, req DispatchRequest) (DispatchReply, error) {
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	go func() {
		for range heartbeat.C {
			activity.RecordHeartbeat(ctx, req.JobID)
		}
	}()

	querier, ok := a.Registry.Get(req.LibraryTag)
	if !ok {
		return DispatchReply{Status: domain.JobInternalFail, ErrorMessage: "no querier registered for library tag " + string(req.LibraryTag)}, nil
	}

	conn, release, err := a.Cache.Acquire(ctx, req.DatasetName)
	if err != nil {
		return DispatchReply{Status: domain.JobInternalFail, ErrorMessage: err.Error()}, nil
	}
	defer release()
	view, err := conn.AsTabular(ctx)
	if err != nil {
		return DispatchReply{Status: domain.JobInternalFail, ErrorMessage: err.Error()}, nil
	}

	result, err := querier.Execute(ctx, view, req.Payload)
	if err != nil {
		return DispatchReply{Status: classifyExecuteError(err), ErrorMessage: err.Error()}, nil
	}
	return DispatchReply{Status: domain.JobOK, Result: result}, nil
}
