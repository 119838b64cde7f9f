package http

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	redisadapter "github.com/robertarktes/tigertix/internal/adapters/redis"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/idempotency"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/reservation"
)

type Handlers struct {
	coord    *reservation.Coordinator
	cache    *redisadapter.Cache
	cacheTTL time.Duration
	logger   observability.Logger
	validate *validator.Validate
	ready    func(ctx context.Context) error
}

// NewHandlers wires the api routes. cache and ready may be nil.
func NewHandlers(coord *reservation.Coordinator, cache *redisadapter.Cache, cacheTTL time.Duration, logger observability.Logger, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{
		coord:    coord,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		validate: newValidator(),
		ready:    ready,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type createEventRequest struct {
	Name         string `json:"name" validate:"required,min=3,max=100"`
	Date         string `json:"date" validate:"required"`
	TotalTickets *int   `json:"totalTickets" validate:"required,gte=0"`
}

type purchaseRequest struct {
	EventID  int64 `json:"eventId" validate:"required,gte=1"`
	Quantity int   `json:"quantity" validate:"required,gte=1"`
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ev, err := h.coord.CreateEvent(r.Context(), req.Name, req.Date, *req.TotalTickets)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.invalidateEvents(r.Context())

	w.Header().Set("Location", "/api/admin/events/"+strconv.FormatInt(ev.ID, 10))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Event created",
		"event":   ev,
	})
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := domain.EventFilter{}
	if v := r.URL.Query().Get("available"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, h.logger, domain.InvalidInput("available must be a boolean"))
			return
		}
		filter.OnlyAvailable = only
	}

	var version int64
	cacheable := false
	if h.cache != nil {
		events, ok, err := h.cache.GetEvents(r.Context(), filter)
		if err != nil {
			h.logger.WithError(err).Warn("event cache read failed")
		} else if ok {
			writeJSON(w, http.StatusOK, events)
			return
		}
		if version, err = h.cache.EventsVersion(r.Context()); err == nil {
			cacheable = true
		}
	}

	events, err := h.coord.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	if cacheable {
		if _, err := h.cache.SetEvents(r.Context(), filter, events, h.cacheTTL, version); err != nil {
			h.logger.WithError(err).Warn("event cache write failed")
		}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ev, err := h.coord.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	id, err := eventIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bookings, err := h.coord.ListBookings(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.coord.Purchase(r.Context(), reservation.PurchaseRequest{
		EventID:        req.EventID,
		Quantity:       req.Quantity,
		IdempotencyKey: r.Header.Get(reservation.IdempotencyKeyHeader),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !res.Replayed {
		h.invalidateEvents(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Ticket Reservation Successful",
		"event":    res.Event,
		"booking":  res.Booking,
		"replayed": res.Replayed,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WithError(err).Warn("readiness check failed")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) invalidateEvents(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateEvents(ctx); err != nil {
		h.logger.WithError(err).Warn("event cache invalidation failed")
	}
}

func eventIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, domain.InvalidInput("event id must be an integer")
	}
	return id, nil
}

// idempotencyKeyValid accepts an absent key or one of at least MinKeyLength.
func idempotencyKeyValid(key string) bool {
	return key == "" || len(key) >= idempotency.MinKeyLength
}
