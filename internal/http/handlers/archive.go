package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/http/response"
	"github.com/latticefort/dp-query-service/internal/pkg/ctxutil"
	"github.com/latticefort/dp-query-service/internal/services/abe"
)

// ArchiveHandler backs GET /get_previous_queries: the append-only
// outcome ledger, optionally scoped to a single dataset.
type ArchiveHandler struct {
	engine *abe.Engine
}

func NewArchiveHandler(engine *abe.Engine) *ArchiveHandler {
	return &ArchiveHandler{engine: engine}
}

func (h *ArchiveHandler) List(c *gin.Context) {
	var req datasetNameRequest
	_ = bindRequest(c, &req)
	userName := ctxutil.Caller(c.Request.Context())
	archives, err := h.engine.GetArchives(c.Request.Context(), userName, req.DatasetName)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, archives)
}
