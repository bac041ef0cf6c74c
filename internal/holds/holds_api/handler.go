package holds_api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ms-fairpass/internal/holds"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
	"ms-fairpass/internal/utils"
)

type IntentService interface {
	Get(ctx context.Context, intentID string) (*models.IntentWithTickets, error)
	Confirm(ctx context.Context, intentID string) (*models.IntentWithTickets, error)
	Cancel(ctx context.Context, intentID string) (*models.IntentWithTickets, error)
}

// PassIssuer renders a ticket pass as a PNG QR code.
type PassIssuer interface {
	QRCode(p models.TicketPass) ([]byte, error)
}

type Handler struct {
	Intents IntentService
	// Passes is optional; without it the pass route is not mounted.
	Passes PassIssuer
	Logger *logger.Logger
}

func NewHandler(intents IntentService, log *logger.Logger) *Handler {
	return &Handler{Intents: intents, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/intents/{intentId}", func(r chi.Router) {
		r.Get("/", h.GetIntent)
		r.Post("/confirm", h.ConfirmIntent)
		r.Post("/cancel", h.CancelIntent)
		if h.Passes != nil {
			r.Get("/tickets/{ticketId}/pass", h.GetTicketPass)
		}
	})
}

// GetIntent handles GET /api/intents/{intentId}
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "Booking intent retrieved", h.Intents.Get)
}

// ConfirmIntent handles POST /api/intents/{intentId}/confirm
func (h *Handler) ConfirmIntent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "Booking confirmed", h.Intents.Confirm)
}

// CancelIntent handles POST /api/intents/{intentId}/cancel
func (h *Handler) CancelIntent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "Booking cancelled", h.Intents.Cancel)
}

// GetTicketPass handles GET /api/intents/{intentId}/tickets/{ticketId}/pass
func (h *Handler) GetTicketPass(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentId")
	ticketID := chi.URLParam(r, "ticketId")
	if _, err := uuid.Parse(intentID); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid intent id", err.Error()))
		return
	}

	intent, err := h.Intents.Get(r.Context(), intentID)
	if err != nil {
		h.writeIntentError(w, r, err)
		return
	}
	if intent.Status != models.IntentStatusCompleted {
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Booking intent is not confirmed", string(intent.Status)))
		return
	}
	if !slices.Contains(intent.TicketIDs, ticketID) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", "ticket does not belong to this booking intent"))
		return
	}

	png, err := h.Passes.QRCode(models.TicketPass{
		TicketID: ticketID,
		IntentID: intent.ID,
		EventID:  intent.EventID,
		IssuedAt: intent.UpdatedAt,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Generating pass for ticket %s failed: %v", ticketID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to generate ticket pass", "qr failure"))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Debug("API", fmt.Sprintf("Writing pass for ticket %s failed: %v", ticketID, err))
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, message string, op func(context.Context, string) (*models.IntentWithTickets, error)) {
	intentID := chi.URLParam(r, "intentId")
	if _, err := uuid.Parse(intentID); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid intent id", err.Error()))
		return
	}

	intent, err := op(r.Context(), intentID)
	if err != nil {
		h.writeIntentError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(message, intent))
}

func (h *Handler) writeIntentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, holds.ErrIntentNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Booking intent not found", err.Error()))
	case errors.Is(err, holds.ErrIntentExpired):
		utils.WriteJSON(w, http.StatusGone, utils.ErrorResponse("Hold expired, tickets were released", err.Error()))
	case errors.Is(err, holds.ErrIntentNotPending):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Booking intent already settled", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s %s failed: %v", r.Method, r.URL.Path, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Booking intent operation failed", "store failure"))
	}
}
