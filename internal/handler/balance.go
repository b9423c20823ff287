package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/remote-lab-rental/internal/ledger"
)

// BalanceHandler exposes a user's own time balance and audit history.
type BalanceHandler struct {
    Ledger *ledger.Ledger
}

// NewBalanceHandler constructs a BalanceHandler.
func NewBalanceHandler(l *ledger.Ledger) *BalanceHandler {
    if l == nil {
        panic("nil ledger passed to NewBalanceHandler")
    }
    return &BalanceHandler{Ledger: l}
}

// GetBalance handles GET /v1/balance.  First access bootstraps a zero
// balance, so this never 404s for an authenticated user.
func (h *BalanceHandler) GetBalance(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    hours, err := h.Ledger.GetBalance(c.Request().Context(), userID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, echo.Map{"balance_hours": hours})
}

// GetHistory handles GET /v1/balance/history.  Entries come back
// newest first; each carries the signed amount and the balance right
// after it applied.
func (h *BalanceHandler) GetHistory(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    entries, err := h.Ledger.History(c.Request().Context(), userID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    out := make([]echo.Map, 0, len(entries))
    for _, e := range entries {
        out = append(out, echo.Map{
            "amount_hours":   e.AmountHours,
            "balance_after":  e.BalanceAfter,
            "operation_type": e.OperationType,
            "notes":          e.Notes,
            "created_by":     e.CreatedBy,
            "created_at":     e.CreatedAt,
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"history": out})
}
