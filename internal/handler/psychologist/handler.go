package psychologist

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
)

type ScheduleService interface {
	Get(ctx context.Context, psychologistID uuid.UUID) (*model.Schedule, error)
	Replace(ctx context.Context, caller model.Principal, psychologistID uuid.UUID, availability model.WeeklyAvailability) (*model.Schedule, error)
}

type AvailabilityService interface {
	Slots(ctx context.Context, psychologistID uuid.UUID, days int) ([]model.DaySlots, error)
}

type OccupancyService interface {
	Occupied(ctx context.Context, psychologistID uuid.UUID, from, to string) ([]model.ExistingAppointment, error)
}

// Handler serves the per-psychologist booking resources.
type Handler struct {
	schedules    ScheduleService
	availability AvailabilityService
	occupancy    OccupancyService
}

func NewHandler(schedules ScheduleService, availability AvailabilityService, occupancy OccupancyService) *Handler {
	return &Handler{schedules: schedules, availability: availability, occupancy: occupancy}
}

func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup, gate handler.RoleGate) {
	public.GET("/psychologists/:id/schedule", h.GetSchedule)
	public.GET("/psychologists/:id/availability", h.GetAvailability)
	public.GET("/psychologists/:id/appointments", h.ListAppointments)
	protected.PUT("/psychologists/:id/schedule", gate(model.RolePsychologist), h.ReplaceSchedule)
}

func (h *Handler) GetSchedule(c *gin.Context) {
	id, ok := psychologistID(c)
	if !ok {
		return
	}

	schedule, err := h.schedules.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, schedule)
}

func (h *Handler) ReplaceSchedule(c *gin.Context) {
	id, ok := psychologistID(c)
	if !ok {
		return
	}
	caller, ok := handler.CurrentPrincipal(c)
	if !ok {
		handler.RespondError(c, apperrors.Unauthorized(nil))
		return
	}

	var req struct {
		Availability model.WeeklyAvailability `json:"availability" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	schedule, err := h.schedules.Replace(c.Request.Context(), caller, id, req.Availability)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, schedule)
}

// GetAvailability returns bookable slots grouped by date.
func (h *Handler) GetAvailability(c *gin.Context) {
	id, ok := psychologistID(c)
	if !ok {
		return
	}

	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handler.RespondError(c, apperrors.BadRequest("days must be a positive integer", err))
			return
		}
		days = n
	}

	slots, err := h.availability.Slots(c.Request.Context(), id, days)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, gin.H{
		"psychologist": id,
		"days":         slots,
	})
}

// ListAppointments exposes only date, times and status of each booking.
func (h *Handler) ListAppointments(c *gin.Context) {
	id, ok := psychologistID(c)
	if !ok {
		return
	}

	var rng model.DateRange
	if err := c.ShouldBindQuery(&rng); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid date range", err))
		return
	}

	existing, err := h.occupancy.Occupied(c.Request.Context(), id, rng.From, rng.To)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, http.StatusOK, existing)
}

func psychologistID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid psychologist ID", err))
		return uuid.Nil, false
	}
	return id, true
}
