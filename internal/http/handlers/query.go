package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/http/response"
	"github.com/latticefort/dp-query-service/internal/pkg/ctxutil"
	"github.com/latticefort/dp-query-service/internal/services/abe"
)

// wireLibraryTags maps the HTTP-surface route fragment back to the
// closed LibraryTag set, the inverse of domain.LibraryTag.WireTag.
var wireLibraryTags = map[string]domain.LibraryTag{
	"smartnoise_sql":   domain.LibrarySQL,
	"opendp":           domain.LibraryPipeline,
	"smartnoise_synth": domain.LibrarySynth,
	"diffprivlib":      domain.LibraryClassical,
}

// QueryHandler backs the three per-library route kinds (estimate/execute/
// dummy-execute, registered once per library tag), all thin wrappers around the corresponding
// abe.Engine operation for whichever library tag the route was
// registered with.
type QueryHandler struct {
	engine *abe.Engine
}

func NewQueryHandler(engine *abe.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

func libraryTagFromWire(wire string) (domain.LibraryTag, bool) {
	tag, ok := wireLibraryTags[wire]
	return tag, ok
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	return io.ReadAll(c.Request.Body)
}

type requestedCostFields struct {
	Dataset          string  `json:"dataset_name"`
	RequestedEpsilon float64 `json:"requested_epsilon"`
	RequestedDelta   float64 `json:"requested_delta"`
}

type dummyFields struct {
	Dataset string `json:"dataset_name"`
	NbRows  int    `json:"nb_rows"`
	Seed    int64  `json:"seed"`
}

// EstimateCost handles POST /estimate_{lib}_cost.
func (h *QueryHandler) EstimateCost(wire string) gin.HandlerFunc {
	tag, ok := libraryTagFromWire(wire)
	return func(c *gin.Context) {
		if !ok {
			response.BadRequest(c, "unrecognized library tag "+wire)
			return
		}
		body, err := readBody(c)
		if err != nil {
			response.BadRequest(c, "failed to read request body")
			return
		}
		var f requestedCostFields
		_ = json.Unmarshal(body, &f)
		if f.Dataset == "" {
			response.BadRequest(c, "dataset_name is required")
			return
		}
		userName := ctxutil.Caller(c.Request.Context())
		cost, err := h.engine.EstimateCost(c.Request.Context(), userName, f.Dataset, tag, body)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		response.RespondOK(c, gin.H{"epsilon": cost.Epsilon, "delta": cost.Delta})
	}
}

// Execute handles POST /{lib}_query.
func (h *QueryHandler) Execute(wire string) gin.HandlerFunc {
	tag, ok := libraryTagFromWire(wire)
	return func(c *gin.Context) {
		if !ok {
			response.BadRequest(c, "unrecognized library tag "+wire)
			return
		}
		body, err := readBody(c)
		if err != nil {
			response.BadRequest(c, "failed to read request body")
			return
		}
		var f requestedCostFields
		_ = json.Unmarshal(body, &f)
		if f.Dataset == "" {
			response.BadRequest(c, "dataset_name is required")
			return
		}
		userName := ctxutil.Caller(c.Request.Context())
		requested := domain.Cost{Epsilon: f.RequestedEpsilon, Delta: f.RequestedDelta}
		outcome, err := h.engine.ExecuteQuery(c.Request.Context(), userName, f.Dataset, tag, body, requested)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"epsilon":      outcome.Epsilon,
			"delta":        outcome.Delta,
			"requested_by": outcome.RequestedBy,
			"result":       outcome.Result,
		})
	}
}

// ExecuteDummy handles POST /dummy_{lib}_query.
func (h *QueryHandler) ExecuteDummy(wire string) gin.HandlerFunc {
	tag, ok := libraryTagFromWire(wire)
	return func(c *gin.Context) {
		if !ok {
			response.BadRequest(c, "unrecognized library tag "+wire)
			return
		}
		body, err := readBody(c)
		if err != nil {
			response.BadRequest(c, "failed to read request body")
			return
		}
		var f dummyFields
		_ = json.Unmarshal(body, &f)
		if f.Dataset == "" {
			response.BadRequest(c, "dataset_name is required")
			return
		}
		userName := ctxutil.Caller(c.Request.Context())
		outcome, err := h.engine.ExecuteDummyQuery(c.Request.Context(), userName, f.Dataset, tag, body, f.NbRows, f.Seed)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"epsilon":      outcome.Epsilon,
			"delta":        outcome.Delta,
			"requested_by": outcome.RequestedBy,
			"result":       outcome.Result,
		})
	}
}
