package reservation_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
	"ms-fairpass/internal/reservation"
	"ms-fairpass/internal/utils"
)

type Reserver interface {
	Reserve(ctx context.Context, eventID string, quantity int) (*models.Reservation, error)
}

type Inventory interface {
	Availability(ctx context.Context, eventID string) (*models.Availability, error)
	ProvisionEvent(ctx context.Context, req models.CreateEventRequest, now time.Time) (*models.Event, error)
}

type Handler struct {
	Reservations Reserver
	Inventory    Inventory
	Clock        clock.Clock
	Logger       *logger.Logger
}

func NewHandler(reservations Reserver, inventory Inventory, clk clock.Clock, log *logger.Logger) *Handler {
	return &Handler{Reservations: reservations, Inventory: inventory, Clock: clk, Logger: log}
}

// RegisterRoutes mounts the public event routes under the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events/{eventId}", func(r chi.Router) {
		r.Post("/reservations", h.Reserve)
		r.Get("/availability", h.GetAvailability)
	})
}

// RegisterAdminRoutes mounts provisioning routes; the caller guards them.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/events", h.CreateEvent)
}

// Reserve handles POST /api/events/{eventId}/reservations
// Expected body: {"quantity": 2}
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var req models.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	res, err := h.Reservations.Reserve(r.Context(), eventID, req.Quantity)
	if err != nil {
		h.writeReserveError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Tickets held", res))
}

func (h *Handler) writeReserveError(w http.ResponseWriter, err error) {
	switch reservation.KindOf(err) {
	case reservation.KindInvalidArgument:
		if errors.Is(err, reservation.ErrEventNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid reservation request", err.Error()))
	case reservation.KindSoldOut:
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Not enough tickets available", err.Error()))
	case reservation.KindTransient:
		if reservation.IsRetryable(err) {
			w.Header().Set("Retry-After", "1")
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Reservation temporarily unavailable, retry", "transient store failure"))
			return
		}
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Reservation failed", "store failure"))
	default:
		h.Logger.Error("API", fmt.Sprintf("Unclassified reserve error: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Reservation failed", "internal error"))
	}
}

// GetAvailability handles GET /api/events/{eventId}/availability
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if _, err := uuid.Parse(eventID); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event id", err.Error()))
		return
	}

	availability, err := h.Inventory.Availability(r.Context(), eventID)
	if errors.Is(err, db.ErrEventNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", err.Error()))
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to count tickets for event %s: %v", eventID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Error retrieving availability", "store failure"))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Availability retrieved", availability))
}

// CreateEvent handles POST /api/admin/events
// Expected body: {"name": "...", "total_tickets": 100, "start_date": "2026-12-01T20:00:00Z"}
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	event, err := h.Inventory.ProvisionEvent(r.Context(), req, h.Clock.Now())
	if errors.Is(err, db.ErrInvalidEvent) {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event", err.Error()))
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to provision event %q: %v", req.Name, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Error creating event", "store failure"))
		return
	}

	h.Logger.LogDatabase("PROVISION", "events", fmt.Sprintf("Event %s created with %d tickets", event.ID, event.TotalTickets))
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Event created", event))
}
