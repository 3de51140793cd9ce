package main

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"

	"gatewayd.backend/internal/interfaces/http/handlers"
	"gatewayd.backend/internal/store"
)

func TestRegisterAPIV1Routes_RegistersExpectedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	s := store.NewMemoryStore()
	sup := &stubSupervisorHandle{}
	registerAPIV1Routes(r, routeDeps{
		chainHandler:   handlers.NewChainHandler(s, sup),
		tokenHandler:   handlers.NewTokenHandler(s),
		invoiceHandler: handlers.NewInvoiceHandler(s, sup),
		adminAuth:      func(c *gin.Context) { c.Next() },
	})

	routes := r.Routes()
	expects := []struct{ method, path string }{
		{"POST", "/api/v1/chains"},
		{"GET", "/api/v1/chains"},
		{"DELETE", "/api/v1/chains/:name"},
		{"POST", "/api/v1/chains/:name/tokens"},
		{"GET", "/api/v1/chains/:name/tokens"},
		{"POST", "/api/v1/invoices"},
		{"GET", "/api/v1/invoices/:id"},
		{"GET", "/swagger/*any"},
	}
	for _, exp := range expects {
		found := false
		for _, route := range routes {
			if route.Method == exp.method && route.Path == exp.path {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("route %s %s not registered", exp.method, exp.path)
		}
	}
}

type stubSupervisorHandle struct{}

func (stubSupervisorHandle) StartListening(ctx context.Context, chainName string) error { return nil }
func (stubSupervisorHandle) StopListening(chainName string)                             {}
func (stubSupervisorHandle) GetFreeSlot(ctx context.Context, chainName string) (uint32, error) {
	return 0, nil
}
