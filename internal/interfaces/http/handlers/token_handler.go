package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/internal/interfaces/http/response"
)

// TokenHandler handles per-chain token registration.
type TokenHandler struct {
	store domainrepos.Store
}

func NewTokenHandler(store domainrepos.Store) *TokenHandler {
	return &TokenHandler{store: store}
}

type createTokenRequest struct {
	Symbol          string `json:"symbol" binding:"required"`
	ContractAddress string `json:"contract_address"`
	Decimals        uint8  `json:"decimals" binding:"required"`
}

// CreateToken registers a token (native or ERC20) accepted on a chain.
//
// @Summary      Register a token
// @Description  Registers a token (native or ERC20 contract) accepted for invoices on a chain.
// @Tags         tokens
// @Accept       json
// @Produce      json
// @Param        name  path      string              true  "chain name"
// @Param        body  body      createTokenRequest  true  "token definition"
// @Success      201   {object}  entities.Token
// @Failure      400   {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/v1/chains/{name}/tokens [post]
func (h *TokenHandler) CreateToken(c *gin.Context) {
	chainName := c.Param("name")

	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	if _, err := h.store.GetChain(c.Request.Context(), chainName); err != nil {
		response.Error(c, mapStoreErr(err, "chain"))
		return
	}

	token := &entities.Token{
		ChainName: chainName,
		Symbol:    req.Symbol,
		Decimals:  req.Decimals,
	}
	if req.ContractAddress != "" {
		token.ContractAddress = &req.ContractAddress
	}

	if err := h.store.AddToken(c.Request.Context(), token); err != nil {
		response.Error(c, mapStoreErr(err, "token"))
		return
	}

	response.Success(c, http.StatusCreated, token)
}

// ListTokens lists the tokens accepted on a chain.
//
// @Summary      List tokens
// @Description  Lists the tokens accepted for invoices on a chain.
// @Tags         tokens
// @Produce      json
// @Param        name  path      string  true  "chain name"
// @Success      200   {object}  map[string]interface{}
// @Router       /api/v1/chains/{name}/tokens [get]
func (h *TokenHandler) ListTokens(c *gin.Context) {
	chainName := c.Param("name")
	tokens, err := h.store.GetTokens(c.Request.Context(), chainName)
	if err != nil {
		response.Error(c, domainerrors.InternalError(err))
		return
	}
	if tokens == nil {
		tokens = []entities.Token{}
	}
	response.Success(c, http.StatusOK, gin.H{"tokens": tokens})
}
