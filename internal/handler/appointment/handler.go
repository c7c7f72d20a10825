package appointment

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
)

type Service interface {
	Create(ctx context.Context, caller model.Principal, req *model.CreateAppointmentRequest) (*model.Appointment, error)
	Get(ctx context.Context, caller model.Principal, id uuid.UUID) (*model.Appointment, error)
	List(ctx context.Context, caller model.Principal, filters model.AppointmentFilters) ([]*model.Appointment, error)
	Cancel(ctx context.Context, caller model.Principal, id uuid.UUID, reason string) (*model.Appointment, error)
	Confirm(ctx context.Context, caller model.Principal, id uuid.UUID) (*model.Appointment, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the appointment routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, gate handler.RoleGate) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", gate(model.RolePatient), h.CreateAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/:id", h.GetAppointment)
		appointments.POST("/:id/cancel", h.CancelAppointment)
		appointments.POST("/:id/confirm", gate(model.RolePsychologist), h.ConfirmAppointment)
	}
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req model.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	appointment, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusCreated, appointment)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	appointment, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, appointment)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}

	filters := model.AppointmentFilters{
		Status: model.AppointmentStatus(c.Query("status")),
		From:   c.Query("from"),
		To:     c.Query("to"),
	}
	if raw := c.Query("psychologist"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			handler.RespondError(c, apperrors.BadRequest("invalid psychologist ID", err))
			return
		}
		filters.PsychologistID = id
	}
	if raw := c.Query("patient"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			handler.RespondError(c, apperrors.BadRequest("invalid patient ID", err))
			return
		}
		filters.PatientID = id
	}

	appointments, err := h.service.List(c.Request.Context(), caller, filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, appointments)
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	// the body is optional
	var req model.CancelAppointmentRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
			return
		}
	}

	appointment, err := h.service.Cancel(c.Request.Context(), caller, id, req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, appointment)
}

func (h *Handler) ConfirmAppointment(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	appointment, err := h.service.Confirm(c.Request.Context(), caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, appointment)
}

func principal(c *gin.Context) (model.Principal, bool) {
	p, ok := handler.CurrentPrincipal(c)
	if !ok {
		handler.RespondError(c, apperrors.Unauthorized(nil))
	}
	return p, ok
}

func appointmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid appointment ID", err))
		return uuid.Nil, false
	}
	return id, true
}
