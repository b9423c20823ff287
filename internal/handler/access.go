package handler

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/remote-lab-rental/internal/gate"
    "github.com/iliyamo/remote-lab-rental/internal/repository"
)

// AccessHandler exposes the lab server catalogue and the access gate
// around the embedded lab surface.  The gate endpoints are the only
// contract between the embed and the metering core: the embed reports
// load events and reads back a single authorized boolean.
type AccessHandler struct {
    Servers *repository.ServerRepo // lab server catalogue
    Gates   *gate.Registry         // per-user gate state
}

// NewAccessHandler constructs an AccessHandler.  Both dependencies
// must be non-nil.
func NewAccessHandler(servers *repository.ServerRepo, gates *gate.Registry) *AccessHandler {
    if servers == nil || gates == nil {
        panic("nil dependency passed to NewAccessHandler")
    }
    return &AccessHandler{Servers: servers, Gates: gates}
}

// ListServers handles GET /v1/servers.  It returns the active lab
// servers so a user can pick a target before starting a session.  No
// authentication is required to browse the catalogue.
func (h *AccessHandler) ListServers(c echo.Context) error {
    servers, err := h.Servers.ListActive(c.Request().Context())
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    out := make([]echo.Map, 0, len(servers))
    for _, s := range servers {
        out = append(out, echo.Map{
            "id":   s.ID,
            "name": s.Name,
            "host": s.Host,
            "port": s.Port,
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"servers": out})
}

// AccessState handles GET /v1/servers/:id/access.  It reports the
// caller's gate decision for the embedded lab surface.  The decision
// comes from verified session state alone; whatever active-session
// flag the client caches is irrelevant here.
func (h *AccessHandler) AccessState(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    if _, err := h.serverID(c); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid server id"})
    }
    g := h.Gates.Gate(userID)
    return c.JSON(http.StatusOK, echo.Map{
        "authorized": g.Authorized(),
        "state":      g.State().String(),
    })
}

// ResourceEvent handles POST /v1/servers/:id/events.  The embedded
// resource reports load-succeeded / load-failed; these events decide
// whether the gate evaluates lock state at all, they never unlock by
// themselves.
func (h *AccessHandler) ResourceEvent(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    serverID, err := h.serverID(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid server id"})
    }
    if _, err := h.Servers.GetByID(c.Request().Context(), serverID); err != nil {
        if errors.Is(err, repository.ErrServerNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "lab server not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    var body struct {
        Event string `json:"event" validate:"required,oneof=loaded failed"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := c.Validate(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "event must be loaded or failed"})
    }
    g := h.Gates.Gate(userID)
    if body.Event == "loaded" {
        g.ResourceLoaded()
    } else {
        g.ResourceFailed()
    }
    return c.JSON(http.StatusOK, echo.Map{
        "authorized": g.Authorized(),
        "state":      g.State().String(),
    })
}

func (h *AccessHandler) serverID(c echo.Context) (uint64, error) {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return 0, errors.New("invalid server id")
    }
    return id, nil
}
