package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd.backend/internal/domain/entities"
	"gatewayd.backend/internal/store"
)

func setupInvoiceChain(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, s.AddChain(ctx, chainFixture("base")))
	require.NoError(t, s.AddToken(ctx, &entities.Token{ChainName: "base", Symbol: "ETH", Decimals: 18}))
}

func TestCreateInvoiceDerivesAddressAndWatchesIt(t *testing.T) {
	ctx := t.Context()
	s := store.NewMemoryStore()
	setupInvoiceChain(t, s)
	sup := newFakeSupervisor()

	h := NewInvoiceHandler(s, sup)
	r := gin.New()
	r.POST("/invoices", h.CreateInvoice)

	rec := doJSON(t, r, http.MethodPost, "/invoices", map[string]interface{}{
		"chain_name":         "base",
		"token_symbol":       "ETH",
		"amount":             "1000000000000000000",
		"expires_in_seconds": 3600,
		"webhook_url":        "https://merchant.example/hook",
		"webhook_secret":     "shh",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var decoded struct {
		ID             string `json:"id"`
		Address        string `json:"address"`
		AddressIndex   uint32 `json:"address_index"`
		DisplayAddress string `json:"display_address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, uint32(0), decoded.AddressIndex)
	assert.NotEmpty(t, decoded.Address)
	assert.True(t, s.IsWatched(ctx, "base", decoded.Address))

	stored, err := s.GetInvoice(ctx, decoded.ID)
	require.NoError(t, err)
	assert.Equal(t, decoded.Address, stored.Address)
	assert.True(t, stored.WebhookURL.Valid)
}

func TestCreateInvoiceRejectsUnknownToken(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.AddChain(t.Context(), chainFixture("base")))
	h := NewInvoiceHandler(s, newFakeSupervisor())

	r := gin.New()
	r.POST("/invoices", h.CreateInvoice)

	rec := doJSON(t, r, http.MethodPost, "/invoices", map[string]interface{}{
		"chain_name":         "base",
		"token_symbol":       "DOGE",
		"amount":             "1",
		"expires_in_seconds": 60,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInvoiceReturnsStoredInvoice(t *testing.T) {
	ctx := t.Context()
	s := store.NewMemoryStore()
	setupInvoiceChain(t, s)

	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xaaa",
		AmountRaw: entities.Uint256FromUint64(100), Status: entities.InvoiceStatusPending,
	}
	require.NoError(t, s.AddInvoice(ctx, inv))

	h := NewInvoiceHandler(s, newFakeSupervisor())
	r := gin.New()
	r.GET("/invoices/:id", h.GetInvoice)

	rec := doJSON(t, r, http.MethodGet, "/invoices/inv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inv-1")
}

func TestGetInvoiceReturnsNotFoundForUnknownID(t *testing.T) {
	s := store.NewMemoryStore()
	h := NewInvoiceHandler(s, newFakeSupervisor())
	r := gin.New()
	r.GET("/invoices/:id", h.GetInvoice)

	rec := doJSON(t, r, http.MethodGet, "/invoices/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
