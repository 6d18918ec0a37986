package httpsvc

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/dealership/internal/service/catalog"
)

func (h *Handler) createBuyer(w http.ResponseWriter, r *http.Request) {
	var req catalog.BuyerInput
	if !decodeJSON(w, r, &req) {
		return
	}
	buyer, err := h.catalog.CreateBuyer(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, buyerOf(buyer))
}

func (h *Handler) listBuyers(w http.ResponseWriter, r *http.Request) {
	buyers, err := h.catalog.ListBuyers(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(buyers, buyerOf))
}

func (h *Handler) getBuyer(w http.ResponseWriter, r *http.Request) {
	buyer, err := h.catalog.GetBuyer(r.Context(), chi.URLParam(r, "buyerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buyerOf(buyer))
}

func (h *Handler) createEmployee(w http.ResponseWriter, r *http.Request) {
	var req catalog.EmployeeInput
	if !decodeJSON(w, r, &req) {
		return
	}
	employee, err := h.catalog.CreateEmployee(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, employeeOf(employee))
}

func (h *Handler) listEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.catalog.ListEmployees(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(employees, employeeOf))
}

func (h *Handler) getEmployee(w http.ResponseWriter, r *http.Request) {
	employee, err := h.catalog.GetEmployee(r.Context(), chi.URLParam(r, "employeeID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, employeeOf(employee))
}

func (h *Handler) createCarModel(w http.ResponseWriter, r *http.Request) {
	var req catalog.CarModelInput
	if !decodeJSON(w, r, &req) {
		return
	}
	model, err := h.catalog.CreateCarModel(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, carModelOf(model))
}

func (h *Handler) listCarModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.catalog.ListCarModels(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(models, carModelOf))
}

func (h *Handler) getCarModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.catalog.GetCarModel(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, carModelOf(model))
}

func (h *Handler) updatePrice(w http.ResponseWriter, r *http.Request) {
	var req updatePriceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	model, err := h.catalog.UpdatePrice(r.Context(), chi.URLParam(r, "modelID"), req.Price)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, carModelOf(model))
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	record, err := h.catalog.SetStock(r.Context(), chi.URLParam(r, "modelID"), req.Quantity)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockOf(record))
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	record, err := h.catalog.GetStock(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockOf(record))
}
