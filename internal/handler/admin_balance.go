package handler

import (
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/remote-lab-rental/internal/ledger"
    "github.com/iliyamo/remote-lab-rental/internal/model"
    "github.com/iliyamo/remote-lab-rental/internal/queue"
    queue_publisher "github.com/iliyamo/remote-lab-rental/internal/service"
)

// AdminBalanceHandler lets the admin collaborator adjust time
// balances: single credits and debits with free-text notes, and batch
// credits for whole classes.  Every adjustment carries the acting
// admin's id into the audit trail.
type AdminBalanceHandler struct {
    Ledger *ledger.Ledger
}

// NewAdminBalanceHandler constructs an AdminBalanceHandler.
func NewAdminBalanceHandler(l *ledger.Ledger) *AdminBalanceHandler {
    if l == nil {
        panic("nil ledger passed to NewAdminBalanceHandler")
    }
    return &AdminBalanceHandler{Ledger: l}
}

type adjustRequest struct {
    UserID uint64  `json:"user_id" validate:"required,gt=0"`
    Hours  float64 `json:"hours" validate:"required"`
    Notes  string  `json:"notes"`
}

// Credit handles POST /v1/admin/balance/credit.  Non-positive amounts
// are rejected before any row is touched.
func (h *AdminBalanceHandler) Credit(c echo.Context) error {
    return h.adjust(c, model.OpAdd)
}

// Debit handles POST /v1/admin/balance/debit.  The deduction clamps at
// zero; the history entry records the signed requested amount.
func (h *AdminBalanceHandler) Debit(c echo.Context) error {
    return h.adjust(c, model.OpDeduct)
}

func (h *AdminBalanceHandler) adjust(c echo.Context, opType string) error {
    actorID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var body adjustRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := c.Validate(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id and hours are required"})
    }

    ctx := c.Request().Context()
    var newBalance float64
    if opType == model.OpAdd {
        newBalance, err = h.Ledger.Credit(ctx, body.UserID, body.Hours, body.Notes, actorID)
    } else {
        newBalance, err = h.Ledger.Debit(ctx, body.UserID, body.Hours, body.Notes, actorID, model.OpDeduct)
    }
    if err != nil {
        if errors.Is(err, ledger.ErrInvalidAmount) {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "hours must be positive"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "ledger write failed"})
    }

    // Notify fire-and-forget; balance truth is already committed.
    amount := body.Hours
    if opType == model.OpDeduct {
        amount = -body.Hours
    }
    _ = queue_publisher.PublishBalanceAdjusted(ctx, queue.BalanceAdjustedEvent{
        UserID:        body.UserID,
        AmountHours:   amount,
        BalanceAfter:  newBalance,
        OperationType: opType,
        Notes:         body.Notes,
        ActorID:       actorID,
        AdjustedAt:    time.Now().UTC().Format(time.RFC3339),
    })

    return c.JSON(http.StatusOK, echo.Map{
        "user_id":       body.UserID,
        "balance_hours": newBalance,
    })
}

// BatchCredit handles POST /v1/admin/balance/batch-credit.  Users are
// credited independently; the response lists who was credited and who
// failed, and a partial failure is still a 200 because the successful
// credits are committed.
func (h *AdminBalanceHandler) BatchCredit(c echo.Context) error {
    actorID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var body struct {
        UserIDs []uint64 `json:"user_ids" validate:"required,min=1,dive,gt=0"`
        Hours   float64  `json:"hours" validate:"required"`
        Notes   string   `json:"notes"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := c.Validate(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_ids and hours are required"})
    }
    if body.Hours <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "hours must be positive"})
    }

    res := h.Ledger.BatchCredit(c.Request().Context(), body.UserIDs, body.Hours, body.Notes, actorID)

    failed := make([]uint64, 0, len(res.Failed))
    for id := range res.Failed {
        failed = append(failed, id)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "credited": res.Credited,
        "failed":   failed,
    })
}
