// Package response is the gin JSON envelope shared by every handler:
// a flat payload on success, {error:{message,code,reason}} on failure.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/latticefort/dp-query-service/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondErr maps an ABE-returned error to its declared HTTP status
// and ErrorKind code, defaulting unclassified errors to INTERNAL_ERROR
// rather than leaking a raw error string with a 200 or guessed status.
func RespondErr(c *gin.Context, err error) {
	apiErr := apierr.As(err)
	c.JSON(apiErr.Status, ErrorEnvelope{
		Error: APIError{
			Message: apiErr.Error(),
			Code:    apiErr.Code,
			Reason:  apiErr.Reason,
		},
	})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{
		Error: APIError{Message: message, Code: apierr.CodeInvalidQuery},
	})
}
