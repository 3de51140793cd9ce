package main

import (
	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "gatewayd.backend/internal/interfaces/http/docs"
	"gatewayd.backend/internal/interfaces/http/handlers"
)

type routeDeps struct {
	chainHandler   *handlers.ChainHandler
	tokenHandler   *handlers.TokenHandler
	invoiceHandler *handlers.InvoiceHandler
	adminAuth      gin.HandlerFunc
}

// registerAPIV1Routes wires the admin API: mutating routes (creating or
// removing a chain, registering a token, opening an invoice) require an
// admin bearer token; list/lookup routes stay public, mirroring the
// teacher's own chain/token list routes.
func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	r.GET("/swagger/*any", gin.WrapH(httpSwagger.WrapHandler))

	v1 := r.Group("/api/v1")
	{
		chains := v1.Group("/chains")
		chains.GET("", d.chainHandler.ListChains)
		chains.GET("/:name/tokens", d.tokenHandler.ListTokens)
		chains.Use(d.adminAuth)
		{
			chains.POST("", d.chainHandler.CreateChain)
			chains.DELETE("/:name", d.chainHandler.DeleteChain)
			chains.POST("/:name/tokens", d.tokenHandler.CreateToken)
		}

		invoices := v1.Group("/invoices")
		invoices.GET("/:id", d.invoiceHandler.GetInvoice)
		invoices.Use(d.adminAuth)
		{
			invoices.POST("", d.invoiceHandler.CreateInvoice)
		}
	}
}
