package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHealthRoute wires the liveness probe; it never touches the store,
// so it still answers while the database is unreachable.
func RegisterHealthRoute(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "gatewayd",
		})
	})
}
