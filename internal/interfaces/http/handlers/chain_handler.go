package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/internal/interfaces/http/response"
	"gatewayd.backend/pkg/logger"
	"gatewayd.backend/pkg/utils"
)

// SupervisorHandle is the slice of *supervisor.Supervisor the admin API
// depends on, kept as an interface so handler tests can substitute a fake
// without spinning up the real ingestion pipeline.
type SupervisorHandle interface {
	StartListening(ctx context.Context, chainName string) error
	StopListening(chainName string)
	GetFreeSlot(ctx context.Context, chainName string) (uint32, error)
}

// ChainHandler handles chain registration endpoints.
type ChainHandler struct {
	store domainrepos.Store
	sup   SupervisorHandle
}

func NewChainHandler(store domainrepos.Store, sup SupervisorHandle) *ChainHandler {
	return &ChainHandler{store: store, sup: sup}
}

type createChainRequest struct {
	Name                  string `json:"name" binding:"required"`
	Type                  string `json:"type" binding:"required"`
	RPCURL                string `json:"rpc_url" binding:"required"`
	XPub                  string `json:"xpub" binding:"required"`
	NativeSymbol          string `json:"native_symbol" binding:"required"`
	NativeDecimals        uint8  `json:"native_decimals"`
	BlockLag              uint8  `json:"block_lag"`
	RequiredConfirmations uint64 `json:"required_confirmations"`
}

// CreateChain registers a chain and starts its ingestor.
//
// @Summary      Register a chain
// @Description  Registers a chain's RPC endpoint and xpub and starts its ingestor.
// @Tags         chains
// @Accept       json
// @Produce      json
// @Param        body  body      createChainRequest  true  "chain definition"
// @Success      201   {object}  entities.Chain
// @Failure      400   {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/v1/chains [post]
func (h *ChainHandler) CreateChain(c *gin.Context) {
	var req createChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	chain := &entities.Chain{
		ID:                    utils.GenerateUUIDv7().String(),
		Name:                  req.Name,
		Type:                  entities.ChainType(req.Type),
		RPCURL:                req.RPCURL,
		XPub:                  req.XPub,
		NativeSymbol:          req.NativeSymbol,
		NativeDecimals:        req.NativeDecimals,
		BlockLag:              req.BlockLag,
		RequiredConfirmations: req.RequiredConfirmations,
	}

	if err := h.store.AddChain(c.Request.Context(), chain); err != nil {
		response.Error(c, mapStoreErr(err, "chain"))
		return
	}

	// A dial failure here doesn't roll back the registration: the chain is
	// now visible through the admin API, and the supervisor retries it on
	// the next process restart. Surfaced as a warning, not a request error.
	if err := h.sup.StartListening(c.Request.Context(), chain.Name); err != nil {
		logger.Warn(c.Request.Context(), "chain registered but ingestor failed to start", zap.String("chain", chain.Name), zap.Error(err))
	}

	response.Success(c, http.StatusCreated, chain)
}

// ListChains lists every registered chain.
//
// @Summary      List chains
// @Description  Lists every registered chain and its watch/ingestion state.
// @Tags         chains
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/chains [get]
func (h *ChainHandler) ListChains(c *gin.Context) {
	chains, err := h.store.GetChains(c.Request.Context())
	if err != nil {
		response.Error(c, domainerrors.InternalError(err))
		return
	}
	if chains == nil {
		chains = []entities.Chain{}
	}
	response.Success(c, http.StatusOK, gin.H{"chains": chains})
}

// DeleteChain removes a chain and stops its ingestor.
//
// @Summary      Remove a chain
// @Description  Cascades to the chain's tokens and invoices and stops its ingestor.
// @Tags         chains
// @Produce      json
// @Param        name  path      string  true  "chain name"
// @Success      200   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/v1/chains/{name} [delete]
func (h *ChainHandler) DeleteChain(c *gin.Context) {
	name := c.Param("name")
	if err := h.store.RemoveChain(c.Request.Context(), name); err != nil {
		response.Error(c, mapStoreErr(err, "chain"))
		return
	}
	h.sup.StopListening(name)
	response.Success(c, http.StatusOK, gin.H{"message": "chain removed"})
}
