package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/volatiletech/null/v8"

	"gatewayd.backend/internal/deriver"
	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/internal/interfaces/http/response"
	"gatewayd.backend/pkg/utils"
)

// InvoiceHandler handles invoice creation and lookup. Creating an invoice
// derives a fresh receive address from the chain's xpub at the smallest
// address index not already held by a Pending invoice.
type InvoiceHandler struct {
	store domainrepos.Store
	sup   SupervisorHandle
}

func NewInvoiceHandler(store domainrepos.Store, sup SupervisorHandle) *InvoiceHandler {
	return &InvoiceHandler{store: store, sup: sup}
}

// invoiceResponse surfaces the checksummed address alongside the lowercase
// form the store keys on - the admin API and webhooks display the former,
// the ingestor and watch set compare the latter.
type invoiceResponse struct {
	entities.Invoice
	DisplayAddress string `json:"display_address"`
}

// CreateInvoice derives an address and opens an invoice against it.
//
// @Summary      Create an invoice
// @Description  Derives a fresh receive address from the chain's xpub and opens a Pending invoice against it.
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        body  body      entities.CreateInvoiceInput  true  "invoice request"
// @Success      201   {object}  invoiceResponse
// @Failure      400   {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/v1/invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req entities.CreateInvoiceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()

	chain, err := h.store.GetChain(ctx, req.ChainName)
	if err != nil {
		response.Error(c, mapStoreErr(err, "chain"))
		return
	}
	if _, err := h.store.GetToken(ctx, req.ChainName, req.TokenSymbol); err != nil {
		response.Error(c, mapStoreErr(err, "token"))
		return
	}

	index, err := h.sup.GetFreeSlot(ctx, req.ChainName)
	if err != nil {
		response.Error(c, domainerrors.InternalError(err))
		return
	}

	xpub, err := deriver.ParseExtendedPublicKey(chain.XPub)
	if err != nil {
		response.Error(c, err)
		return
	}
	rawAddr, checksummed, err := xpub.Address(index)
	if err != nil {
		response.Error(c, domainerrors.InternalError(err))
		return
	}
	lowerAddr := strings.ToLower(rawAddr.Hex())

	now := time.Now()
	invoice := &entities.Invoice{
		ID:           utils.GenerateUUIDv7().String(),
		ChainName:    req.ChainName,
		TokenSymbol:  req.TokenSymbol,
		Address:      lowerAddr,
		AddressIndex: index,
		AmountRaw:    req.Amount,
		Status:       entities.InvoiceStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(req.ExpiresIn) * time.Second),
	}
	if req.WebhookURL != "" {
		invoice.WebhookURL = null.StringFrom(req.WebhookURL)
	}
	if req.WebhookSecret != "" {
		invoice.WebhookSecret = null.StringFrom(req.WebhookSecret)
	}

	if err := h.store.AddInvoice(ctx, invoice); err != nil {
		response.Error(c, mapStoreErr(err, "invoice"))
		return
	}
	if err := h.store.AddWatchAddress(ctx, req.ChainName, lowerAddr); err != nil {
		response.Error(c, domainerrors.InternalError(err))
		return
	}

	response.Success(c, http.StatusCreated, invoiceResponse{Invoice: *invoice, DisplayAddress: checksummed})
}

// GetInvoice looks up an invoice by id.
//
// @Summary      Get an invoice
// @Description  Looks up an invoice by id, including its paid-so-far total and status.
// @Tags         invoices
// @Produce      json
// @Param        id   path      string  true  "invoice id"
// @Success      200  {object}  entities.Invoice
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.store.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, mapStoreErr(err, "invoice"))
		return
	}
	response.Success(c, http.StatusOK, invoice)
}
