package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/http/response"
)

// StateHandler backs the liveness probe: no dependency on AS/MCS/DBR
// so it answers even if the database backing them is unreachable.
type StateHandler struct{}

func NewStateHandler() *StateHandler { return &StateHandler{} }

// GET /state
func (h *StateHandler) State(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "LIVE", "message": "ok"})
}
