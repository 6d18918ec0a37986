package httpsvc

import (
	"encoding/json"
	"net/http"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

const codeBadRequest = "bad_request"

type errorBody struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorsResponse struct {
	Errors []errorBody `json:"errors"`
}

// statusOf выбирает HTTP-статус по самой серьёзной ошибке в списке.
func statusOf(failures domain.Failures) int {
	status := http.StatusUnprocessableEntity
	rank := 0
	for _, f := range failures {
		var s, r int
		switch f.Code {
		case domain.FailureInternal:
			s, r = http.StatusInternalServerError, 4
		case domain.FailureNotFound:
			s, r = http.StatusNotFound, 3
		case domain.FailureConflict, domain.FailureInsufficientStock:
			s, r = http.StatusConflict, 2
		default:
			s, r = http.StatusUnprocessableEntity, 1
		}
		if r > rank {
			status, rank = s, r
		}
	}
	return status
}

func writeFailure(w http.ResponseWriter, err error) {
	failures := domain.AsFailures("", err)
	body := errorsResponse{Errors: make([]errorBody, 0, len(failures))}
	for _, f := range failures {
		body.Errors = append(body.Errors, errorBody{Code: string(f.Code), Field: f.Field, Message: f.Message})
	}
	writeJSON(w, statusOf(failures), body)
}

func writeBadRequest(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, errorsResponse{Errors: []errorBody{{
		Code:    codeBadRequest,
		Field:   field,
		Message: message,
	}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeBadRequest(w, "", "invalid json body: "+err.Error())
		return false
	}
	return true
}
