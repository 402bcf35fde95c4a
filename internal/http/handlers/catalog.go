package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/data/repos/catalog"
	"github.com/latticefort/dp-query-service/internal/http/response"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	"github.com/latticefort/dp-query-service/internal/services/dg"
)

// CatalogHandler serves the two MCS-backed read routes that sit
// outside the admission protocol: metadata lookup and dummy dataset
// materialization, neither of which touches a budget.
type CatalogHandler struct {
	mcs catalog.Store
}

func NewCatalogHandler(mcs catalog.Store) *CatalogHandler {
	return &CatalogHandler{mcs: mcs}
}

type datasetNameRequest struct {
	DatasetName string `json:"dataset_name" form:"dataset_name"`
}

// GET /get_dataset_metadata
func (h *CatalogHandler) GetDatasetMetadata(c *gin.Context) {
	var req datasetNameRequest
	if err := bindRequest(c, &req); err != nil {
		response.BadRequest(c, "malformed request")
		return
	}
	if req.DatasetName == "" {
		response.BadRequest(c, "dataset_name is required")
		return
	}
	meta, err := h.mcs.GetMetadata(dbctx.Context{Ctx: c.Request.Context()}, req.DatasetName)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, meta)
}

type dummyDatasetRequest struct {
	DatasetName string `json:"dataset_name" form:"dataset_name"`
	NbRows      int    `json:"nb_rows" form:"nb_rows"`
	Seed        int64  `json:"seed" form:"seed"`
}

// GET /get_dummy_dataset
func (h *CatalogHandler) GetDummyDataset(c *gin.Context) {
	var req dummyDatasetRequest
	if err := bindRequest(c, &req); err != nil {
		response.BadRequest(c, "malformed request")
		return
	}
	if req.DatasetName == "" {
		response.BadRequest(c, "dataset_name is required")
		return
	}
	meta, err := h.mcs.GetMetadata(dbctx.Context{Ctx: c.Request.Context()}, req.DatasetName)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	view, err := dg.Generate(meta, req.NbRows, req.Seed)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.RespondOK(c, view)
}
