package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/services/tshaper"
)

// TimingShaper wraps every ABE-backed route so response time never
// betrays which admission step produced the response: success,
// validation failure, budget rejection, and backend failure all pass
// through the same post-processing floor. It runs after c.Next()
// regardless of the status code or panic-free error path the handler
// took, applied once at the router level rather than threaded through
// every handler branch.
func TimingShaper(shaper *tshaper.Shaper) gin.HandlerFunc {
	return func(c *gin.Context) {
		admitTime := time.Now()
		c.Next()
		shaper.Await(c.Request.Context(), admitTime)
	}
}
