package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/zinc"
)

// errorEnvelope — единый формат ошибок API: сообщение, машинный код и
// диагностические данные.
type errorEnvelope struct {
	Error string                 `json:"error"`
	Code  string                 `json:"code,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, envelope errorEnvelope) {
	respondJSON(w, status, envelope)
}

// writeDomainError переводит доменные и провайдерские ошибки в HTTP-ответ.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, errorEnvelope{Error: "order not found", Code: "order_not_found"})
		return
	case errors.Is(err, domain.ErrCaseNotFound):
		respondError(w, http.StatusNotFound, errorEnvelope{Error: "case not found", Code: "case_not_found"})
		return
	case errors.Is(err, domain.ErrReturnInProgress):
		respondError(w, http.StatusConflict, errorEnvelope{Error: "a return for this order is already in progress", Code: "return_in_progress"})
		return
	case errors.Is(err, domain.ErrOrderVersionConflict):
		respondError(w, http.StatusConflict, errorEnvelope{Error: "order was modified concurrently, retry the request", Code: "conflict"})
		return
	case errors.Is(err, domain.ErrProductsRequired),
		errors.Is(err, domain.ErrMaxPriceInvalid),
		errors.Is(err, domain.ErrMessageRequired),
		errors.Is(err, domain.ErrMerchantOrderIDRequired),
		errors.Is(err, domain.ErrProductIDRequired):
		respondError(w, http.StatusBadRequest, errorEnvelope{Error: err.Error(), Code: "invalid_request"})
		return
	}

	var precondition *domain.PreconditionError
	if errors.As(err, &precondition) {
		respondError(w, http.StatusBadRequest, errorEnvelope{
			Error: precondition.Error(),
			Code:  "precondition_failed",
			Data:  map[string]interface{}{"current_status": string(precondition.Current)},
		})
		return
	}

	var apiErr *zinc.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		respondError(w, status, errorEnvelope{
			Error: apiErr.Message,
			Code:  apiErr.Code,
			Data:  apiErr.Data,
		})
		return
	}

	respondError(w, http.StatusInternalServerError, errorEnvelope{Error: "internal error", Code: "internal_error"})
}
