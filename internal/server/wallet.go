package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pazarglobal/assistant/internal/store"
)

// WalletHandler reads the authenticated user's balance and ledger.
type WalletHandler struct {
	Store *store.Store
}

func (h *WalletHandler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.Use(auth)
	g.GET("", h.wallet)
}

func (h *WalletHandler) wallet(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	ctx := c.Request().Context()
	balance, err := h.Store.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "wallet not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	txs, err := h.Store.ListTransactions(ctx, userID, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := WalletResponse{UserID: userID, Balance: balance, Transactions: make([]Transaction, 0, len(txs))}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, Transaction{
			ID:        t.ID,
			Amount:    t.Amount,
			Kind:      t.Kind,
			Reason:    t.Reason,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, resp)
}
