package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/abgdnv/marketplace/purchasing_service/internal/service"
	"github.com/abgdnv/marketplace/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// AdminHandler serves catalog administration. It is meant to be reachable from inside the cluster only.
type AdminHandler struct {
	catalog  service.CatalogService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAdminHandler(catalog service.CatalogService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		catalog:  catalog,
		validate: validator.New(),
		logger:   logger.With("component", "rest-admin"),
	}
}

type shopperRequest struct {
	ID uuid.UUID `json:"id" validate:"required"`
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/shoppers", h.RegisterShopper)
		r.Route("/stored-products", func(r chi.Router) {
			r.Post("/", h.ListStoredProduct)
			r.Get("/{id}", h.GetStoredProduct)
			r.Put("/{id}/price", h.UpdatePrice)
			r.Post("/{id}/restock", h.Restock)
		})
	})
}

func (h *AdminHandler) RegisterShopper(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var req shopperRequest
	if !h.decode(w, r, mLogger, &req) {
		return
	}
	if err := h.catalog.RegisterShopper(r.Context(), req.ID); err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to register shopper")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusCreated, req)
}

func (h *AdminHandler) ListStoredProduct(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto service.StoredProductCreateDto
	if !h.decode(w, r, mLogger, &dto) {
		return
	}
	sp, err := h.catalog.ListStoredProduct(r.Context(), dto)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to list stored product")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusCreated, sp)
}

func (h *AdminHandler) GetStoredProduct(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger, "id")
	if !ok {
		return
	}
	sp, err := h.catalog.GetStoredProduct(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to retrieve stored product")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, sp)
}

func (h *AdminHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger, "id")
	if !ok {
		return
	}
	var dto service.PriceUpdateDto
	if !h.decode(w, r, mLogger, &dto) {
		return
	}
	sp, err := h.catalog.UpdatePrice(r.Context(), id, dto.Price)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to update price")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, sp)
}

func (h *AdminHandler) Restock(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger, "id")
	if !ok {
		return
	}
	var dto service.RestockDto
	if !h.decode(w, r, mLogger, &dto) {
		return
	}
	sp, err := h.catalog.Restock(r.Context(), id, dto.Quantity)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to restock")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, sp)
}

// decode reads and validates a JSON body into dst, answering 400 on failure.
func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.WarnContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, logger, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return validateBody(h.validate, w, r, logger, dst)
}

func (h *AdminHandler) loggerWithReqID(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}
