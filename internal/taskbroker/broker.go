// Package taskbroker defines the Task Broker (TB) contract ABE
// dispatches against: a durable FIFO handoff from admission to a
// worker, keyed by job id, with an at-least-once delivery guarantee
// and a reply channel per job.
package taskbroker

import (
	"context"

	"github.com/google/uuid"

	"github.com/latticefort/dp-query-service/internal/dpbackend"
	"github.com/latticefort/dp-query-service/internal/domain"
)

// JobRequest is what ABE hands to the broker at admission step 6. The
// broker never inspects Payload; it is opaque cargo for the DBR
// Querier the worker resolves by LibraryTag.
type JobRequest struct {
	JobID       uuid.UUID
	UserName    string
	DatasetName string
	LibraryTag  domain.LibraryTag
	Payload     []byte

	// RequestedCost/MeasuredCost are carried for the durable job row's
	// audit fields only; the broker does not interpret them.
	RequestedCost domain.Cost
	MeasuredCost  domain.Cost
}

// JobReply is the worker's terminal disposition for a job, delivered
// once on the job's reply channel.
type JobReply struct {
	JobID        uuid.UUID
	Status       domain.JobStatus // JobOK, JobLibFail, or JobInternalFail
	Result       dpbackend.Result
	ErrorMessage string
}

// Broker is the TB capability ABE depends on. Both the in-process
// bounded worker pool and the Temporal-backed implementation satisfy
// it identically from ABE's point of view.
type Broker interface {
	// Enqueue publishes req and returns a channel that receives exactly
	// one JobReply once the job reaches a terminal state, or is closed
	// without a value if the broker itself cannot ever deliver one
	// (e.g. shutdown). Callers that give up waiting simply stop reading
	// the channel; the job itself is never cancelled.
	Enqueue(ctx context.Context, req JobRequest) (<-chan JobReply, error)
	// BacklogDepth reports the number of non-terminal jobs, used by ABE
	// to enforce the configured high-water mark before debiting.
	BacklogDepth(ctx context.Context) (int64, error)
}
