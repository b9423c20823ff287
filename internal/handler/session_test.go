package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/remote-lab-rental/internal/model"
	"github.com/iliyamo/remote-lab-rental/internal/repository"
	"github.com/iliyamo/remote-lab-rental/internal/session"
)

func TestSessionErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{session.ErrNoBalance, http.StatusPaymentRequired},
		{session.ErrSessionActive, http.StatusConflict},
		{session.ErrNotOwner, http.StatusForbidden},
		{session.ErrServerInactive, http.StatusConflict},
		{repository.ErrSessionNotFound, http.StatusNotFound},
		{repository.ErrSessionClosed, http.StatusConflict},
		{repository.ErrServerNotFound, http.StatusNotFound},
		{session.ErrLedgerWrite, http.StatusInternalServerError},
		{errors.New("driver: bad connection"), http.StatusInternalServerError},
	}
	e := echo.New()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/start", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		require.NoError(t, sessionError(c, tc.err))
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}

	// Wrapped sentinels map the same as bare ones.
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/start", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	wrapped := errors.Join(session.ErrLedgerWrite, errors.New("deadlock"))
	require.NoError(t, sessionError(c, wrapped))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetUserID(t *testing.T) {
	e := echo.New()
	newCtx := func(v interface{}) echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		if v != nil {
			c.Set("user_id", v)
		}
		return c
	}

	// JWT claims arrive as float64; other numeric shapes come from tests
	// and internal callers.
	for _, v := range []interface{}{uint64(7), int(7), int64(7), float64(7), "7"} {
		id, err := getUserID(newCtx(v))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), id)
	}

	_, err := getUserID(newCtx(nil))
	assert.Error(t, err)
	_, err = getUserID(newCtx("not-a-number"))
	assert.Error(t, err)
}

func TestNewSessionResponse(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	open := &model.Session{ID: "s1", UserID: 1, ServerID: 10, StartTime: start}
	resp := newSessionResponse(open)
	assert.Equal(t, "2025-06-01T12:00:00Z", resp.StartTime)
	assert.Nil(t, resp.EndTime)
	assert.Nil(t, resp.DurationMinutes)

	end := start.Add(45 * time.Minute)
	minutes := 45.0
	closed := &model.Session{ID: "s1", UserID: 1, ServerID: 10, StartTime: start, EndTime: &end, DurationMinutes: &minutes}
	resp = newSessionResponse(closed)
	require.NotNil(t, resp.EndTime)
	assert.Equal(t, "2025-06-01T12:45:00Z", *resp.EndTime)
	require.NotNil(t, resp.DurationMinutes)
	assert.Equal(t, 45.0, *resp.DurationMinutes)
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	var body struct {
		ServerID uint64 `json:"server_id" validate:"required,gt=0"`
	}
	assert.Error(t, v.Validate(&body))
	body.ServerID = 10
	assert.NoError(t, v.Validate(&body))
}
