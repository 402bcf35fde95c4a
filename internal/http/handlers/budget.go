package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/http/response"
	"github.com/latticefort/dp-query-service/internal/pkg/ctxutil"
	"github.com/latticefort/dp-query-service/internal/services/abe"
)

// BudgetHandler backs the three read-only budget projections, all
// derived from the same GetBudget call and differing only in which
// field of the BudgetView they surface.
type BudgetHandler struct {
	engine *abe.Engine
}

func NewBudgetHandler(engine *abe.Engine) *BudgetHandler {
	return &BudgetHandler{engine: engine}
}

func (h *BudgetHandler) view(c *gin.Context) (abe.BudgetView, bool) {
	var req datasetNameRequest
	if err := bindRequest(c, &req); err != nil || req.DatasetName == "" {
		response.BadRequest(c, "dataset_name is required")
		return abe.BudgetView{}, false
	}
	userName := ctxutil.Caller(c.Request.Context())
	view, err := h.engine.GetBudget(c.Request.Context(), userName, req.DatasetName)
	if err != nil {
		response.RespondErr(c, err)
		return abe.BudgetView{}, false
	}
	return view, true
}

// GET /get_initial_budget
func (h *BudgetHandler) Initial(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"epsilon": view.Initial.Epsilon, "delta": view.Initial.Delta})
}

// GET /get_total_spent_budget
func (h *BudgetHandler) TotalSpent(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"epsilon": view.Spent.Epsilon, "delta": view.Spent.Delta})
}

// GET /get_remaining_budget
func (h *BudgetHandler) Remaining(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"epsilon": view.Remaining.Epsilon, "delta": view.Remaining.Delta})
}
