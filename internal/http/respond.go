package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
)

type errorResponse struct {
	Error     string `json:"error"`
	Available *int   `json:"available,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return domain.InvalidInput("malformed JSON body: %v", err)
	}
	return nil
}

// writeError maps domain failures onto status codes. Anything unrecognized is
// a storage fault: logged in full, answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger observability.Logger, err error) {
	var insufficient *domain.InsufficientInventoryError
	var verrs validator.ValidationErrors

	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string][]fieldError{"errors": validationErrors(verrs)})
	case errors.As(err, &insufficient):
		available := insufficient.Available
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:     "Not enough tickets available for that quantity",
			Available: &available,
		})
	case errors.Is(err, domain.ErrEventNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Event not found"})
	case errors.Is(err, domain.ErrDuplicateEvent):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrDuplicateEvent.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string][]fieldError{"errors": {{Message: err.Error()}}})
	case errors.Is(err, domain.ErrSerializationFailure):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict, try again"})
	default:
		observability.LoggerFrom(r.Context(), logger).
			WithField("path", r.URL.Path).
			WithError(err).
			Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func validationErrors(verrs validator.ValidationErrors) []fieldError {
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		return field + " must be at least " + fe.Param()
	case "max", "lte":
		return field + " must be at most " + fe.Param()
	case "gt":
		return field + " must be greater than " + fe.Param()
	default:
		return field + " is invalid (" + strings.TrimSpace(fe.Tag()) + ")"
	}
}
