package controller

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/factory"
	"github.com/academiaparchada/ms-go-reconciler/app/mapper"
	"github.com/academiaparchada/ms-go-reconciler/app/types"
)

type eventLister interface {
	ListBySession(ctx context.Context, sessionID string, limit int32) ([]*entity.ReconcileEvent, error)
}

// EventController serves the audit trail of a reconciliation session.
// It is registered only when an event log backend is configured.
type EventController struct {
	events eventLister
	logger logrus.FieldLogger
}

func NewEventController(events eventLister) *EventController {
	return &EventController{
		events: events,
		logger: factory.NewModuleLogger("events-controller"),
	}
}

func (c *EventController) ListSessionEvents(ctx echo.Context) error {
	req, err := types.NewSessionIDRequestFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "invalid request"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: err.Error()})
	}

	events, err := c.events.ListBySession(ctx.Request().Context(), req.ID, 100)
	if err != nil {
		c.logger.WithError(err).Error("List session events failed")
		return ctx.JSON(http.StatusInternalServerError, &types.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, &types.SessionEventsResponse{
		SessionID: req.ID,
		Events:    mapper.EventsToResponse(events),
	})
}
