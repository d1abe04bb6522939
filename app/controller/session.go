package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/academiaparchada/ms-go-reconciler/app/factory"
	"github.com/academiaparchada/ms-go-reconciler/app/mapper"
	"github.com/academiaparchada/ms-go-reconciler/app/outcome"
	"github.com/academiaparchada/ms-go-reconciler/app/service"
	"github.com/academiaparchada/ms-go-reconciler/app/types"
)

type SessionController struct {
	sessions *service.SessionManager
	logger   logrus.FieldLogger
}

func NewSessionController(sessions *service.SessionManager) *SessionController {
	return &SessionController{
		sessions: sessions,
		logger:   factory.NewModuleLogger("sessions-controller"),
	}
}

func (c *SessionController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *SessionController) OpenSession(ctx echo.Context) error {
	req, err := types.NewOpenSessionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	sessionID, state, err := c.sessions.Open(req.Page, req.PurchaseID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPage) {
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		}
		c.logger.WithError(err).Error("Open session failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusCreated, &types.SessionEnvelopeResponse{
		SessionID: sessionID,
		State:     mapper.StateToResponse(state),
	})
}

func (c *SessionController) GetSession(ctx echo.Context) error {
	req, err := types.NewSessionIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	state, err := c.sessions.Get(req.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "session not found")
		}
		c.logger.WithError(err).Error("Get session failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.SessionEnvelopeResponse{
		SessionID: req.ID,
		State:     mapper.StateToResponse(state),
	})
}

func (c *SessionController) CheckNow(ctx echo.Context) error {
	req, err := types.NewSessionIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	state, err := c.sessions.CheckNow(ctx.Request().Context(), req.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			return c.writeError(ctx, http.StatusNotFound, "session not found")
		case errors.Is(err, outcome.ErrPollingActive):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, outcome.ErrNoPurchase):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Manual check failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.SessionEnvelopeResponse{
		SessionID: req.ID,
		State:     mapper.StateToResponse(state),
	})
}

func (c *SessionController) CloseSession(ctx echo.Context) error {
	req, err := types.NewSessionIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.sessions.Close(req.ID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "session not found")
		}
		c.logger.WithError(err).Error("Close session failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Session closed"})
}

func (c *SessionController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
