package handler

import (
    "errors"   // for errors.Is comparisons against domain sentinels
    "net/http" // HTTP status codes
    "time"     // elapsed-time arithmetic for the remaining estimate

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/remote-lab-rental/internal/gate"
    "github.com/iliyamo/remote-lab-rental/internal/repository"
    "github.com/iliyamo/remote-lab-rental/internal/session"
)

// SessionHandler exposes the session lifecycle over HTTP.  All methods
// assume JWT authentication has already run; they may return 401 when
// the user id cannot be extracted from the context.  Every lifecycle
// mutation goes through the controller, never directly to storage.
type SessionHandler struct {
    Controller  *session.Controller        // lifecycle state machine + meters
    Projections *repository.ProjectionRepo // provisional client projection
    Gates       *gate.Registry             // per-user gates and verify schedules
}

// NewSessionHandler constructs a SessionHandler with the provided
// dependencies.  All of them must be non-nil.
func NewSessionHandler(controller *session.Controller, projections *repository.ProjectionRepo, gates *gate.Registry) *SessionHandler {
    if controller == nil || projections == nil || gates == nil {
        panic("nil dependency passed to NewSessionHandler")
    }
    return &SessionHandler{Controller: controller, Projections: projections, Gates: gates}
}

// Start handles POST /v1/sessions/start.  The body names the target
// lab server; the authenticated user's balance and open-session state
// decide whether a session may begin.
func (h *SessionHandler) Start(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var body struct {
        ServerID uint64 `json:"server_id" validate:"required,gt=0"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := c.Validate(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "server_id is required"})
    }
    sess, err := h.Controller.Start(c.Request().Context(), userID, body.ServerID)
    if err != nil {
        return sessionError(c, err)
    }
    return c.JSON(http.StatusCreated, newSessionResponse(sess))
}

// Pause handles POST /v1/sessions/:id/pause.  The interval record is
// closed but nothing is deducted yet.
func (h *SessionHandler) Pause(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    sess, err := h.Controller.Pause(c.Request().Context(), userID, c.Param("id"))
    if err != nil {
        return sessionError(c, err)
    }
    return c.JSON(http.StatusOK, newSessionResponse(sess))
}

// Resume handles POST /v1/sessions/:id/resume.  A fresh session row
// continues the paused occupancy.
func (h *SessionHandler) Resume(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    sess, err := h.Controller.Resume(c.Request().Context(), userID, c.Param("id"))
    if err != nil {
        return sessionError(c, err)
    }
    return c.JSON(http.StatusCreated, newSessionResponse(sess))
}

// End handles POST /v1/sessions/:id/end: the finalizing transition
// that settles the deduction for the whole occupancy.
func (h *SessionHandler) End(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    sess, err := h.Controller.End(c.Request().Context(), userID, c.Param("id"))
    if err != nil {
        return sessionError(c, err)
    }
    return c.JSON(http.StatusOK, newSessionResponse(sess))
}

// Active handles GET /v1/sessions/active.  It returns the cached
// projection together with a live verdict and remaining-seconds
// estimate.  The projection alone never authorizes anything; the
// verified flag tells the client whether the server agrees with it.
func (h *SessionHandler) Active(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx := c.Request().Context()
    proj, err := h.Projections.Get(ctx, userID)
    if err != nil {
        if errors.Is(err, repository.ErrProjectionNotFound) {
            return c.JSON(http.StatusOK, echo.Map{"active": false})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache error"})
    }

    verdict := h.Gates.Verify(ctx, userID, proj.SessionID, proj.StartTime)

    // Prefer the live meter; fall back to the projection arithmetic
    // when the meter lives on another instance.
    var remaining float64
    if m := h.Controller.Meter(userID); m != nil {
        remaining = m.Remaining().Seconds()
    } else {
        elapsed := time.Since(proj.StartTime).Seconds()
        remaining = proj.BalanceSecondsAtStart - elapsed
        if remaining < 0 {
            remaining = 0
        }
    }
    return c.JSON(http.StatusOK, echo.Map{
        "active":            true,
        "verified":          verdict.Valid,
        "session_id":        proj.SessionID,
        "server_id":         proj.ServerID,
        "start_time":        proj.StartTime,
        "remaining_seconds": remaining,
    })
}

// Verify handles POST /v1/sessions/:id/verify: one on-demand
// verification whose verdict also feeds the caller's gate.
func (h *SessionHandler) Verify(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx := c.Request().Context()
    sessionID := c.Param("id")

    // The claimed start comes from the cached projection when it names
    // this session; without it the grace window cannot apply.
    var claimedStart time.Time
    if proj, err := h.Projections.Get(ctx, userID); err == nil && proj.SessionID == sessionID {
        claimedStart = proj.StartTime
    }

    verdict := h.Gates.Verify(ctx, userID, sessionID, claimedStart)
    resp := echo.Map{"valid": verdict.Valid}
    if verdict.Reason != nil {
        resp["reason"] = verdict.Reason.Error()
    }
    return c.JSON(http.StatusOK, resp)
}

// Refocus handles POST /v1/sessions/refocus, reported by the client
// when the embedding tab regains visibility; it nudges the periodic
// verification schedule to check now instead of at the next interval.
func (h *SessionHandler) Refocus(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    h.Gates.Refocus(userID)
    return c.NoContent(http.StatusAccepted)
}

// sessionError maps domain sentinels onto HTTP responses.
func sessionError(c echo.Context, err error) error {
    switch {
    case errors.Is(err, session.ErrNoBalance):
        return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "no time balance remaining"})
    case errors.Is(err, session.ErrSessionActive):
        return c.JSON(http.StatusConflict, echo.Map{"error": "another session is already active"})
    case errors.Is(err, session.ErrNotOwner):
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    case errors.Is(err, session.ErrServerInactive):
        return c.JSON(http.StatusConflict, echo.Map{"error": "lab server is not active"})
    case errors.Is(err, repository.ErrSessionNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
    case errors.Is(err, repository.ErrSessionClosed):
        return c.JSON(http.StatusConflict, echo.Map{"error": "session already closed"})
    case errors.Is(err, repository.ErrServerNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "lab server not found"})
    case errors.Is(err, session.ErrLedgerWrite):
        // Spent time that was not deducted: surfaced, never retried.
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "session closed but balance deduction failed; support has been notified"})
    default:
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
}
