package handlers

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// bindRequest accepts either a JSON body or query-string parameters
// for the same request shape: some GET routes here carry a JSON body,
// but most HTTP clients and gin's own ShouldBindQuery only agree on
// query strings for GET, so both are tried before giving up.
func bindRequest(c *gin.Context, dst any) error {
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return c.ShouldBindQuery(dst)
}
