// Package abe implements the Admission & Budget Engine: the core
// admission protocol that validates a query, prices it against a DP
// backend, atomically debits the caller's budget, dispatches to the
// Task Broker, and reconciles the outcome against the archive and
// (on confirmed backend failure) the budget ledger.
package abe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/latticefort/dp-query-service/internal/config"
	"github.com/latticefort/dp-query-service/internal/data/repos/admin"
	"github.com/latticefort/dp-query-service/internal/data/repos/catalog"
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/dpbackend"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
	"github.com/latticefort/dp-query-service/internal/platform/otelx"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
	"github.com/latticefort/dp-query-service/internal/services/dg"
	"github.com/latticefort/dp-query-service/internal/taskbroker"
	"github.com/latticefort/dp-query-service/internal/taskbroker/backpressure"
)

// BudgetView is the read-model returned by GetBudget: initial, spent,
// and derived remaining in one shape for the three budget HTTP routes.
type BudgetView struct {
	Initial   domain.Cost
	Spent     domain.Cost
	Remaining domain.Cost
}

// QueryOutcome is the successful shape of a production or dummy query,
// matching the HTTP contract's {epsilon, delta, requested_by, result}.
type QueryOutcome struct {
	Epsilon     float64
	Delta       float64
	RequestedBy string
	Result      dpbackend.Result
}

type Engine struct {
	cfg      config.Config
	as       admin.Store
	mcs      catalog.Store
	cache    *dcc.Cache
	registry *dpbackend.Registry
	broker   taskbroker.Broker
	gate     *backpressure.Gate
	log      *logger.Logger
}

func New(
	cfg config.Config,
	as admin.Store,
	mcs catalog.Store,
	cache *dcc.Cache,
	registry *dpbackend.Registry,
	broker taskbroker.Broker,
	gate *backpressure.Gate,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		as:       as,
		mcs:      mcs,
		cache:    cache,
		registry: registry,
		broker:   broker,
		gate:     gate,
		log:      log.With("service", "AdmissionBudgetEngine"),
	}
}

// gateCheck resolves the caller and confirms they may query dataset,
// admission protocol step 1's identity half (submit_limit is enforced
// separately by the caller of gateCheck since dummy queries skip it).
func (e *Engine) gateCheck(ctx context.Context, userName, datasetName string) (*domain.User, *domain.BudgetEntry, error) {
	user, err := e.as.GetUser(dbctx.Context{Ctx: ctx}, userName)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, nil, apierr.Unauthorized("unknown user", err)
		}
		return nil, nil, apierr.InternalError("failed to resolve user", err)
	}
	if !user.MayQuery {
		return nil, nil, apierr.Unauthorized("user is not permitted to query", nil)
	}
	budget, err := e.as.GetBudget(dbctx.Context{Ctx: ctx}, user.ID, datasetName)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, nil, apierr.Unauthorized("user has no grant for dataset "+datasetName, err)
		}
		return nil, nil, apierr.InternalError("failed to resolve budget grant", err)
	}
	return user, budget, nil
}

func (e *Engine) resolveQuerier(lib domain.LibraryTag) (dpbackend.Querier, error) {
	q, ok := e.registry.Get(lib)
	if !ok {
		return nil, apierr.InvalidQuery("unrecognized library tag "+string(lib), nil)
	}
	return q, nil
}

// EstimateCost is the pure, no-state-change admission preview: resolve
// the backend, validate the payload, and price it. It reads AS for the
// gate check but never writes to it.
func (e *Engine) EstimateCost(ctx context.Context, userName, datasetName string, lib domain.LibraryTag, payload []byte) (domain.Cost, error) {
	ctx, span := otelx.StartSpan(ctx, "abe.estimate_cost")
	defer span.End()

	if _, _, err := e.gateCheck(ctx, userName, datasetName); err != nil {
		return domain.Cost{}, err
	}
	querier, err := e.resolveQuerier(lib)
	if err != nil {
		return domain.Cost{}, err
	}
	meta, err := e.mcs.GetMetadata(dbctx.Context{Ctx: ctx}, datasetName)
	if err != nil {
		return domain.Cost{}, apierr.InvalidQuery("unknown dataset "+datasetName, err)
	}
	if err := querier.Validate(ctx, meta, payload); err != nil {
		return domain.Cost{}, err
	}
	return querier.EstimateCost(ctx, meta, payload)
}

// ExecuteQuery runs the full production admission protocol: gate,
// normalize, estimate, pre-check, CAS-debit, enqueue, await, and
// terminal disposition (archive, compensate on confirmed EXTERNAL_LIB
// failure, no compensation on timeout/crash).
func (e *Engine) ExecuteQuery(ctx context.Context, userName, datasetName string, lib domain.LibraryTag, payload []byte, requested domain.Cost) (QueryOutcome, error) {
	ctx, span := otelx.StartSpan(ctx, "abe.execute_query")
	defer span.End()

	release, ok, err := e.gate.Acquire(ctx)
	if err != nil {
		return QueryOutcome{}, apierr.InternalError("submit limit gate failure", err)
	}
	if !ok {
		return QueryOutcome{}, apierr.WithReason(503, apierr.CodeInternalError, "BACKPRESSURE", pkgerrors.ErrBackpressure)
	}
	defer release()

	user, _, err := e.gateCheck(ctx, userName, datasetName)
	if err != nil {
		return QueryOutcome{}, err
	}

	querier, err := e.resolveQuerier(lib)
	if err != nil {
		return QueryOutcome{}, err
	}
	meta, err := e.mcs.GetMetadata(dbctx.Context{Ctx: ctx}, datasetName)
	if err != nil {
		return QueryOutcome{}, apierr.InvalidQuery("unknown dataset "+datasetName, err)
	}
	if err := querier.Validate(ctx, meta, payload); err != nil {
		return QueryOutcome{}, err
	}

	measured, err := querier.EstimateCost(ctx, meta, payload)
	if err != nil {
		return QueryOutcome{}, err
	}

	if depth, err := e.broker.BacklogDepth(ctx); err == nil && e.cfg.BacklogHighWaterMark > 0 && depth >= int64(e.cfg.BacklogHighWaterMark) {
		return QueryOutcome{}, apierr.WithReason(503, apierr.CodeInternalError, "BACKPRESSURE", pkgerrors.ErrBackpressure)
	}

	if err := e.debit(ctx, user.ID, datasetName, measured); err != nil {
		return QueryOutcome{}, err
	}

	jobID := uuid.New()
	replyCh, err := e.broker.Enqueue(ctx, taskbroker.JobRequest{
		JobID:         jobID,
		UserName:      userName,
		DatasetName:   datasetName,
		LibraryTag:    lib,
		Payload:       payload,
		RequestedCost: requested,
		MeasuredCost:  measured,
	})
	if err != nil {
		return QueryOutcome{}, apierr.InternalError("failed to enqueue job", err)
	}

	outcomeCh := make(chan finalOutcome, 1)
	go func() {
		reply := <-replyCh
		outcomeCh <- e.finalize(context.Background(), jobID, user.ID, userName, datasetName, lib, payload, measured, reply)
	}()

	select {
	case outcome := <-outcomeCh:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return QueryOutcome{}, apierr.InternalError("request cancelled or timed out awaiting backend reply; debit stands", ctx.Err())
	case <-time.After(e.cfg.Server.RequestTimeout):
		return QueryOutcome{}, apierr.InternalError("request timed out awaiting backend reply; debit stands", nil)
	}
}

// ExecuteDummyQuery bypasses AS entirely: it still requires a grant
// (a user must have the dataset in their grants to try it against a
// synthetic frame) but never debits and never appears in the archive.
func (e *Engine) ExecuteDummyQuery(ctx context.Context, userName, datasetName string, lib domain.LibraryTag, payload []byte, nbRows int, seed int64) (QueryOutcome, error) {
	ctx, span := otelx.StartSpan(ctx, "abe.execute_dummy_query")
	defer span.End()

	if _, _, err := e.gateCheck(ctx, userName, datasetName); err != nil {
		return QueryOutcome{}, err
	}
	querier, err := e.resolveQuerier(lib)
	if err != nil {
		return QueryOutcome{}, err
	}
	// Dummy queries only need schema shape, never a materialized
	// connector, so metadata is resolved through the cache's passthrough
	// rather than going straight to the catalog store.
	meta, err := e.cache.MetadataFor(ctx, datasetName)
	if err != nil {
		return QueryOutcome{}, apierr.InvalidQuery("unknown dataset "+datasetName, err)
	}
	if err := querier.Validate(ctx, meta, payload); err != nil {
		return QueryOutcome{}, err
	}
	view, err := dg.Generate(meta, nbRows, seed)
	if err != nil {
		return QueryOutcome{}, apierr.InternalError("dummy dataset generation failed", err)
	}
	result, err := querier.Execute(ctx, view, payload)
	if err != nil {
		return QueryOutcome{}, err
	}
	return QueryOutcome{RequestedBy: userName, Result: result}, nil
}

func (e *Engine) GetBudget(ctx context.Context, userName, datasetName string) (BudgetView, error) {
	user, budget, err := e.gateCheck(ctx, userName, datasetName)
	if err != nil {
		return BudgetView{}, err
	}
	_ = user
	initial := domain.Cost{Epsilon: budget.InitialEpsilon, Delta: budget.InitialDelta}
	spent := domain.Cost{Epsilon: budget.SpentEpsilon, Delta: budget.SpentDelta}
	return BudgetView{Initial: initial, Spent: spent, Remaining: initial.Sub(spent)}, nil
}

func (e *Engine) GetArchives(ctx context.Context, userName, datasetName string) ([]*domain.Archive, error) {
	return e.as.ListArchives(dbctx.Context{Ctx: ctx}, userName, datasetName)
}

// debit runs the bounded CAS retry loop of admission steps 4-5: read
// current spent, reject if the measured cost would exceed initial on
// either coordinate, then attempt the pinned compare-and-swap. A CAS
// conflict retries the whole read-check-write cycle since a concurrent
// admission may have changed which increment is still affordable.
func (e *Engine) debit(ctx context.Context, userID uuid.UUID, datasetName string, measured domain.Cost) error {
	limit := e.cfg.CASRetryLimit
	if limit <= 0 {
		limit = 5
	}
	for attempt := 0; attempt < limit; attempt++ {
		budget, err := e.as.GetBudget(dbctx.Context{Ctx: ctx}, userID, datasetName)
		if err != nil {
			return apierr.InternalError("failed to re-read budget before debit", err)
		}
		initial := domain.Cost{Epsilon: budget.InitialEpsilon, Delta: budget.InitialDelta}
		spent := domain.Cost{Epsilon: budget.SpentEpsilon, Delta: budget.SpentDelta}
		if spent.Add(measured).ExceedsEither(initial) {
			return apierr.WithReason(400, apierr.CodeInvalidQuery, "BUDGET_EXCEEDED", nil)
		}
		err = e.as.CASDebit(dbctx.Context{Ctx: ctx}, budget.ID, spent, measured)
		if err == nil {
			return nil
		}
		if errors.Is(err, pkgerrors.ErrCASConflict) {
			continue
		}
		return apierr.InternalError("budget debit failed", err)
	}
	return apierr.InternalError("budget debit exhausted retries under contention", nil)
}

// compensate reverses exactly the prior debit on confirmed EXTERNAL_LIB
// failure, retrying under the same CAS discipline; exhaustion is logged
// as an operator-visible discrepancy rather than surfaced to the caller.
// It re-reads the budget row fresh on every attempt so a concurrent
// admission that has since moved spent is detected rather than
// clobbered.
func (e *Engine) compensate(ctx context.Context, userID uuid.UUID, datasetName string, measured domain.Cost) {
	limit := e.cfg.CASRetryLimit
	if limit <= 0 {
		limit = 5
	}
	for attempt := 0; attempt < limit; attempt++ {
		budget, err := e.as.GetBudget(dbctx.Context{Ctx: ctx}, userID, datasetName)
		if err != nil {
			e.log.Error("compensation lookup failed, discrepancy possible", "user_id", userID.String(), "dataset", datasetName, "error", err.Error())
			return
		}
		spent := domain.Cost{Epsilon: budget.SpentEpsilon, Delta: budget.SpentDelta}
		if err := e.as.CASCredit(dbctx.Context{Ctx: ctx}, budget.ID, spent, measured); err == nil {
			return
		} else if !errors.Is(err, pkgerrors.ErrCASConflict) {
			e.log.Error("compensation failed, discrepancy possible", "budget_id", budget.ID.String(), "error", err.Error())
			return
		}
	}
	e.log.Error("compensation exhausted retries, discrepancy possible", "user_id", userID.String(), "dataset", datasetName)
}

type finalOutcome struct {
	result QueryOutcome
	err    error
}

// finalize handles admission step 8: writes the archive row matching
// the job's terminal status and, on LIB_FAIL, compensates the debit.
func (e *Engine) finalize(ctx context.Context, jobID uuid.UUID, userID uuid.UUID, userName, datasetName string, lib domain.LibraryTag, payload []byte, measured domain.Cost, reply taskbroker.JobReply) finalOutcome {
	hash := payloadHash(payload)
	switch reply.Status {
	case domain.JobOK:
		_, _ = e.as.AppendArchive(dbctx.Context{Ctx: ctx}, &domain.Archive{
			ID: uuid.New(), JobID: jobID, UserName: userName, DatasetName: datasetName,
			LibraryTag: lib, PayloadHash: hash,
			MeasuredEpsilon: measured.Epsilon, MeasuredDelta: measured.Delta,
			Status: domain.ArchiveOK,
		})
		return finalOutcome{result: QueryOutcome{Epsilon: measured.Epsilon, Delta: measured.Delta, RequestedBy: userName, Result: reply.Result}}
	case domain.JobLibFail:
		e.compensate(ctx, userID, datasetName, measured)
		_, _ = e.as.AppendArchive(dbctx.Context{Ctx: ctx}, &domain.Archive{
			ID: uuid.New(), JobID: jobID, UserName: userName, DatasetName: datasetName,
			LibraryTag: lib, PayloadHash: hash,
			MeasuredEpsilon: measured.Epsilon, MeasuredDelta: measured.Delta,
			Status: domain.ArchiveCompensated,
		})
		return finalOutcome{err: apierr.ExternalLib(reply.ErrorMessage, nil)}
	default: // JobInternalFail, or any other value treated conservatively
		_, _ = e.as.AppendArchive(dbctx.Context{Ctx: ctx}, &domain.Archive{
			ID: uuid.New(), JobID: jobID, UserName: userName, DatasetName: datasetName,
			LibraryTag: lib, PayloadHash: hash,
			MeasuredEpsilon: measured.Epsilon, MeasuredDelta: measured.Delta,
			Status: domain.ArchiveInternalFail,
		})
		return finalOutcome{err: apierr.InternalError(reply.ErrorMessage, nil)}
	}
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
