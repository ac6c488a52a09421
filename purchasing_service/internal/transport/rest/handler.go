// Package rest exposes carts, checkout and purchase history over HTTP.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/service"
	"github.com/abgdnv/marketplace/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// retryAfterSeconds is sent with 503 responses caused by lock contention.
const retryAfterSeconds = 1

type Handler struct {
	service  service.PurchasingService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler on top of the purchasing service.
func NewHandler(service service.PurchasingService, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the shopper-facing routes. All of them require X-User-Id.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(web.AuthMiddleware)
		r.Route("/api/v1/cart", func(r chi.Router) {
			r.Post("/", h.OpenCart)
			r.Get("/", h.GetCart)
			r.Post("/lines", h.AddLine)
			r.Delete("/lines/{id}", h.RemoveLine)
			r.Post("/checkout", h.CompletePurchase)
		})
		r.Route("/api/v1/purchases", func(r chi.Router) {
			r.Get("/", h.ListPurchases)
			r.Get("/{id}", h.GetPurchase)
		})
	})
	r.Get("/healthz", h.HealthCheck)
}

func (h *Handler) OpenCart(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	cart, err := h.service.OpenCart(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to open cart")
		return
	}
	mLogger.InfoContext(r.Context(), "Cart opened", slog.String("ID", cart.ID.String()))
	web.RespondJSON(w, mLogger, http.StatusCreated, cart)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	cart, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to retrieve cart")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, cart)
}

func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	var dto service.AddLineDto
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		mLogger.WarnContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.validateBody(w, r, mLogger, dto) {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to add cart line", "stored_product_id", dto.StoredProductID, "quantity", dto.Quantity)
	line, err := h.service.AddLine(r.Context(), userID, dto)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to add cart line")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, line)
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	storedProductID, ok := web.ParseID(w, r, mLogger, "id")
	if !ok {
		return
	}
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	if err := h.service.RemoveLine(r.Context(), userID, storedProductID); err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to remove cart line")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	purchase, err := h.service.CompletePurchase(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to complete purchase")
		return
	}
	mLogger.InfoContext(r.Context(), "Purchase completed", slog.String("ID", purchase.ID.String()))
	web.RespondJSON(w, mLogger, http.StatusCreated, purchase)
}

// ListPurchases accepts optional RFC 3339 start and end query parameters.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	start, ok := web.ParseTimeParam(r, w, mLogger, "start")
	if !ok {
		return
	}
	end, ok := web.ParseTimeParam(r, w, mLogger, "end")
	if !ok {
		return
	}
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	list, err := h.service.ListPurchases(r.Context(), userID, start, end)
	if err != nil {
		respondServiceError(w, r, mLogger, err, "Failed to fetch purchases")
		return
	}
	mLogger.DebugContext(r.Context(), "Successfully retrieved purchase list", "count", len(list))
	web.RespondJSON(w, mLogger, http.StatusOK, list)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseID(w, r, mLogger, "id")
	if !ok {
		return
	}
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	purchase, err := h.service.GetPurchase(r.Context(), userID, id)
	if err != nil {
		respondServiceError(w, r, mLogger, err, fmt.Sprintf("Failed to retrieve purchase with ID %s", id))
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, purchase)
}

// HealthCheck is a simple health check endpoint.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) validateBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, body any) bool {
	return validateBody(h.validate, w, r, logger, body)
}

func validateBody(validate *validator.Validate, w http.ResponseWriter, r *http.Request, logger *slog.Logger, body any) bool {
	err := validate.Struct(body)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errorResponse := make(map[string]string)
		for _, fieldErr := range validationErrors {
			errorResponse[fieldErr.Field()] = "failed on rule: " + fieldErr.Tag()
		}
		logger.WarnContext(r.Context(), "Validation errors occurred", "errors", errorResponse)
		web.RespondJSON(w, logger, http.StatusBadRequest, map[string]any{"validation_errors": errorResponse})
		return false
	}
	logger.ErrorContext(r.Context(), "Error validating request body", "error", err)
	web.RespondError(w, logger, http.StatusBadRequest, "Invalid request body")
	return false
}

// respondServiceError maps the service error taxonomy to HTTP responses.
// fallback is the message for errors that are not part of it.
func respondServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	var stockErr *purchaseerrors.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		logger.WarnContext(r.Context(), "Insufficient stock", "error", err)
		web.RespondJSON(w, logger, http.StatusConflict, map[string]any{
			"error":             purchaseerrors.ErrInsufficientStock.Error(),
			"stored_product_id": stockErr.StoredProductID,
			"product_id":        stockErr.ProductID,
			"requested":         stockErr.Requested,
			"available":         stockErr.Available,
		})
	case errors.Is(err, purchaseerrors.ErrShopperNotFound),
		errors.Is(err, purchaseerrors.ErrBuyerNotFound),
		errors.Is(err, purchaseerrors.ErrCartNotFound),
		errors.Is(err, purchaseerrors.ErrLineNotFound),
		errors.Is(err, purchaseerrors.ErrInventoryRecordNotFound),
		errors.Is(err, purchaseerrors.ErrPurchaseNotFound):
		logger.WarnContext(r.Context(), "Resource not found", "error", err)
		web.RespondError(w, logger, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, purchaseerrors.ErrCartAlreadyExists),
		errors.Is(err, purchaseerrors.ErrShopperAlreadyExists),
		errors.Is(err, purchaseerrors.ErrStoredProductAlreadyListed),
		errors.Is(err, purchaseerrors.ErrConcurrentModification):
		logger.WarnContext(r.Context(), "Conflict", "error", err)
		web.RespondError(w, logger, http.StatusConflict, rootMessage(err))
	case errors.Is(err, purchaseerrors.ErrCartEmpty),
		errors.Is(err, purchaseerrors.ErrInvalidQuantity),
		errors.Is(err, purchaseerrors.ErrInvalidPrice),
		errors.Is(err, purchaseerrors.ErrInvalidDateRange):
		logger.WarnContext(r.Context(), "Rejected request", "error", err)
		web.RespondError(w, logger, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, purchaseerrors.ErrLockTimeout):
		logger.WarnContext(r.Context(), "Lock wait timed out", "error", err)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		web.RespondError(w, logger, http.StatusServiceUnavailable, purchaseerrors.ErrLockTimeout.Error())
	default:
		logger.ErrorContext(r.Context(), fallback, "error", err)
		web.RespondError(w, logger, http.StatusInternalServerError, fallback)
	}
}

// rootMessage returns the text of the first taxonomy error found in err's chain.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		purchaseerrors.ErrShopperNotFound,
		purchaseerrors.ErrBuyerNotFound,
		purchaseerrors.ErrCartNotFound,
		purchaseerrors.ErrLineNotFound,
		purchaseerrors.ErrInventoryRecordNotFound,
		purchaseerrors.ErrPurchaseNotFound,
		purchaseerrors.ErrCartAlreadyExists,
		purchaseerrors.ErrShopperAlreadyExists,
		purchaseerrors.ErrStoredProductAlreadyListed,
		purchaseerrors.ErrConcurrentModification,
		purchaseerrors.ErrCartEmpty,
		purchaseerrors.ErrInvalidQuantity,
		purchaseerrors.ErrInvalidPrice,
		purchaseerrors.ErrInvalidDateRange,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// loggerWithReqID creates a logger with the request ID from the context.
func (h *Handler) loggerWithReqID(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}
