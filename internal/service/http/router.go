// Package httpsvc: REST API дилерского центра поверх chi.
package httpsvc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/metrics"
	"github.com/vladislavdragonenkov/dealership/internal/service/catalog"
	"github.com/vladislavdragonenkov/dealership/internal/service/orders"
)

// Handler связывает HTTP-маршруты с сервисами заказов и каталога.
type Handler struct {
	orders  *orders.Service
	catalog *catalog.Service
	metrics *metrics.WorkflowMetrics
	logger  *log.Entry
}

// NewHandler создаёт handler. metrics и logger могут быть nil.
func NewHandler(orderService *orders.Service, catalogService *catalog.Service, m *metrics.WorkflowMetrics, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		orders:  orderService,
		catalog: catalogService,
		metrics: m,
		logger:  logger,
	}
}

// Router возвращает http.Handler со всеми маршрутами API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.logger, h.metrics))
	r.Use(middleware.Recoverer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Patch("/", h.editOrder)
			r.Delete("/", h.deleteOrder)
			r.Get("/timeline", h.orderTimeline)
			r.Post("/items", h.addItem)
			r.Post("/items/batch", h.addItems)
			r.Delete("/items", h.removeItems)
			r.Patch("/items/{itemID}", h.editItem)
		})
	})

	r.Route("/buyers", func(r chi.Router) {
		r.Post("/", h.createBuyer)
		r.Get("/", h.listBuyers)
		r.Get("/{buyerID}", h.getBuyer)
	})
	r.Route("/employees", func(r chi.Router) {
		r.Post("/", h.createEmployee)
		r.Get("/", h.listEmployees)
		r.Get("/{employeeID}", h.getEmployee)
	})
	r.Route("/car-models", func(r chi.Router) {
		r.Post("/", h.createCarModel)
		r.Get("/", h.listCarModels)
		r.Route("/{modelID}", func(r chi.Router) {
			r.Get("/", h.getCarModel)
			r.Patch("/price", h.updatePrice)
			r.Put("/inventory", h.setStock)
			r.Get("/inventory", h.getStock)
		})
	})

	return r
}
