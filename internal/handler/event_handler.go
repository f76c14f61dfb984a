package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sitereport-api/internal/dto"
	"github.com/noah-isme/sitereport-api/internal/middleware"
	"github.com/noah-isme/sitereport-api/internal/service"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/response"
)

type inspectionIndexer interface {
	OnInspectionFinalized(ctx context.Context, event service.InspectionFinalized)
}

// EventHandler receives workflow events from sibling services.
type EventHandler struct {
	indexer   inspectionIndexer
	roles     middleware.RoleResolver
	validator *validator.Validate
}

// NewEventHandler constructs the handler. The caller must be a member of the
// event's organization; the finalizing user is always the caller.
func NewEventHandler(indexer inspectionIndexer, roles middleware.RoleResolver, validate *validator.Validate) *EventHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &EventHandler{indexer: indexer, roles: roles, validator: validate}
}

// InspectionFinalized godoc
// @Summary Record an ITP report for a finalized inspection
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body dto.InspectionFinalizedEvent true "Finalized inspection"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /internal/events/inspection-finalized [post]
func (h *EventHandler) InspectionFinalized(c *gin.Context) {
	var event dto.InspectionFinalizedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload"))
		return
	}
	if err := h.validator.Struct(event); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload"))
		return
	}
	actorID := middleware.UserID(c)
	if event.FinalizedBy != "" && event.FinalizedBy != actorID {
		response.Error(c, appErrors.Clone(appErrors.ErrAccessDenied, "finalizedBy must be the calling user"))
		return
	}
	if _, err := h.roles.Role(c.Request.Context(), event.OrganizationID, actorID); err != nil {
		response.Error(c, err)
		return
	}

	finalizedAt := time.Time{}
	if event.FinalizedAt != nil {
		finalizedAt = event.FinalizedAt.UTC()
	}
	// Indexing never fails the finalization that triggered it.
	h.indexer.OnInspectionFinalized(c.Request.Context(), service.InspectionFinalized{
		OrganizationID:       event.OrganizationID,
		ProjectID:            event.ProjectID,
		InspectionInstanceID: event.InspectionInstanceID,
		TemplateName:         event.TemplateName,
		Result:               event.Result,
		FinalizedBy:          actorID,
		FinalizedAt:          finalizedAt,
	})
	response.JSON(c, http.StatusAccepted, gin.H{"accepted": true}, nil)
}
