package http

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/tigertix/internal/assistant"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
)

type AssistantHandlers struct {
	assistant *assistant.Assistant
	logger    observability.Logger
	validate  *validator.Validate
}

func NewAssistantHandlers(a *assistant.Assistant, logger observability.Logger) *AssistantHandlers {
	return &AssistantHandlers{assistant: a, logger: logger, validate: newValidator()}
}

type parseRequest struct {
	Text     string              `json:"text" validate:"required"`
	Proposal *assistant.Proposal `json:"proposal"`
}

type confirmRequest struct {
	EventID  int64  `json:"eventId" validate:"required,gte=1"`
	Quantity int    `json:"quantity" validate:"required,gte=1"`
	IntentID string `json:"intentId"`
	Confirm  *bool  `json:"confirm"`
}

func (h *AssistantHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.assistant.AvailableEvents(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *AssistantHandlers) Parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	reply, err := h.assistant.Propose(r.Context(), req.Text, req.Proposal)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *AssistantHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Confirm != nil && !*req.Confirm {
		writeError(w, r, h.logger, domain.InvalidInput("confirm must be true"))
		return
	}

	reply, err := h.assistant.Confirm(r.Context(), assistant.Proposal{
		EventID:  req.EventID,
		Quantity: req.Quantity,
		IntentID: req.IntentID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *AssistantHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
