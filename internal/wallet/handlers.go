package wallet

import (
	"github.com/gin-gonic/gin"
	"github.com/smmkit/panel-api/pkg/response"
)

// GinHandlers contains HTTP handlers for wallet endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// BalanceHandler handles GET requests for the caller's wallet balance.
func (h *GinHandlers) BalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		balance, err := h.service.GetBalance(userID)
		if err != nil {
			response.InternalError(c, "Failed to fetch balance")
			return
		}
		response.Success(c, gin.H{"balance": balance})
	}
}

// TransactionsHandler handles GET requests for the caller's ledger.
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		transactions, err := h.service.TransactionsForUser(userID)
		response.Handle(c, transactions, err)
	}
}
