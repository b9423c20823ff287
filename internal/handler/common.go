package handler // handler defines http handlers

import (
    "errors"  // errors provides sentinel values used in getUserID
    "strconv" // strconv converts strings to numeric types
    "time"    // time formats session timestamps

    "github.com/go-playground/validator/v10" // request body validation
    "github.com/labstack/echo/v4"            // echo defines request context types

    "github.com/iliyamo/remote-lab-rental/internal/model"
)

// getUserID extracts the authenticated user id that JWTAuth stored in
// the echo.Context and converts it to uint64.  JWT numeric claims
// arrive as float64, so several representations are accepted.
func getUserID(c echo.Context) (uint64, error) {
    v := c.Get("user_id")
    switch t := v.(type) {
    case uint64:
        return t, nil
    case int:
        return uint64(t), nil
    case int64:
        return uint64(t), nil
    case float64:
        return uint64(t), nil
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, errors.New("user_id missing from context")
}

// Validator adapts go-playground/validator to echo's Validator
// interface so handlers can bind-and-validate request bodies in one
// step via c.Validate.
type Validator struct {
    validate *validator.Validate
}

// NewValidator returns a Validator ready to install on echo.Echo.
func NewValidator() *Validator {
    return &Validator{validate: validator.New()}
}

// Validate implements echo.Validator.
func (v *Validator) Validate(i interface{}) error {
    return v.validate.Struct(i)
}

// sessionResponse is the JSON shape returned for session rows.  The
// nullable close-time fields are pointers so open sessions serialize
// them as null.
type sessionResponse struct {
    ID              string   `json:"id"`
    UserID          uint64   `json:"user_id"`
    ServerID        uint64   `json:"server_id"`
    StartTime       string   `json:"start_time"`
    EndTime         *string  `json:"end_time"`
    DurationMinutes *float64 `json:"duration_minutes"`
}

func newSessionResponse(s *model.Session) sessionResponse {
    resp := sessionResponse{
        ID:              s.ID,
        UserID:          s.UserID,
        ServerID:        s.ServerID,
        StartTime:       s.StartTime.UTC().Format(time.RFC3339),
        DurationMinutes: s.DurationMinutes,
    }
    if s.EndTime != nil {
        t := s.EndTime.UTC().Format(time.RFC3339)
        resp.EndTime = &t
    }
    return resp
}
