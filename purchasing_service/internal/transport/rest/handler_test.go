package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/service"
	"github.com/abgdnv/marketplace/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPurchasingService struct {
	mock.Mock
}

func (m *mockPurchasingService) OpenCart(ctx context.Context, shopperID uuid.UUID) (*service.CartDto, error) {
	args := m.Called(ctx, shopperID)
	cart, _ := args.Get(0).(*service.CartDto)
	return cart, args.Error(1)
}

func (m *mockPurchasingService) GetCart(ctx context.Context, shopperID uuid.UUID) (*service.CartDto, error) {
	args := m.Called(ctx, shopperID)
	cart, _ := args.Get(0).(*service.CartDto)
	return cart, args.Error(1)
}

func (m *mockPurchasingService) AddLine(ctx context.Context, shopperID uuid.UUID, line service.AddLineDto) (*service.CartLineDto, error) {
	args := m.Called(ctx, shopperID, line)
	added, _ := args.Get(0).(*service.CartLineDto)
	return added, args.Error(1)
}

func (m *mockPurchasingService) RemoveLine(ctx context.Context, shopperID uuid.UUID, storedProductID uuid.UUID) error {
	args := m.Called(ctx, shopperID, storedProductID)
	return args.Error(0)
}

func (m *mockPurchasingService) CompletePurchase(ctx context.Context, shopperID uuid.UUID) (*service.PurchaseDto, error) {
	args := m.Called(ctx, shopperID)
	purchase, _ := args.Get(0).(*service.PurchaseDto)
	return purchase, args.Error(1)
}

func (m *mockPurchasingService) ListPurchases(ctx context.Context, buyerID uuid.UUID, start, end *time.Time) ([]service.PurchaseDto, error) {
	args := m.Called(ctx, buyerID, start, end)
	list, _ := args.Get(0).([]service.PurchaseDto)
	return list, args.Error(1)
}

func (m *mockPurchasingService) GetPurchase(ctx context.Context, buyerID uuid.UUID, purchaseID uuid.UUID) (*service.PurchaseDto, error) {
	args := m.Called(ctx, buyerID, purchaseID)
	purchase, _ := args.Get(0).(*service.PurchaseDto)
	return purchase, args.Error(1)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// toJSON is a helper function to convert a struct to JSON string
func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	bytes, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal to JSON: %v", err)
	}
	return string(bytes)
}

func newRouter(svc service.PurchasingService) *chi.Mux {
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewJSONHandler(io.Discard, nil))).RegisterRoutes(r)
	return r
}

func doRequest(router http.Handler, method, target string, userID uuid.UUID, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != uuid.Nil {
		req.Header.Set(web.XUserId, userID.String())
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func Test_Handler_CompletePurchase(t *testing.T) {
	shopperID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174001")
	purchaseID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174002")
	storedProductID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174003")
	productID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174004")
	purchase := &service.PurchaseDto{
		ID:         purchaseID,
		BuyerID:    shopperID,
		TotalPrice: decimal.RequireFromString("30.00"),
		CreatedAt:  "2025-03-01T10:00:00Z",
		Lines: []service.PurchaseLineDto{{
			StoredProductID: storedProductID,
			ProductID:       productID,
			Quantity:        3,
			UnitPrice:       decimal.RequireFromString("10.00"),
			Price:           decimal.RequireFromString("30.00"),
		}},
	}

	testCases := []struct {
		name         string
		userID       uuid.UUID
		result       *service.PurchaseDto
		err          error
		expectedCode int
		expectedBody string
		retryAfter   string
	}{
		{
			name:         "Success - purchase created",
			userID:       shopperID,
			result:       purchase,
			expectedCode: http.StatusCreated,
			expectedBody: toJSON(t, purchase),
		},
		{
			name:         "Error - missing user header",
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "Error - cart not found",
			userID:       shopperID,
			err:          purchaseerrors.ErrCartNotFound,
			expectedCode: http.StatusNotFound,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrCartNotFound.Error()}),
		},
		{
			name:         "Error - cart empty",
			userID:       shopperID,
			err:          purchaseerrors.ErrCartEmpty,
			expectedCode: http.StatusBadRequest,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrCartEmpty.Error()}),
		},
		{
			name:   "Error - insufficient stock",
			userID: shopperID,
			err: &purchaseerrors.InsufficientStockError{
				StoredProductID: storedProductID,
				ProductID:       productID,
				Requested:       4,
				Available:       2,
			},
			expectedCode: http.StatusConflict,
			expectedBody: fmt.Sprintf(`{"error":%q,"stored_product_id":%q,"product_id":%q,"requested":4,"available":2}`,
				purchaseerrors.ErrInsufficientStock.Error(), storedProductID, productID),
		},
		{
			name:         "Error - concurrent modification",
			userID:       shopperID,
			err:          fmt.Errorf("stored product %s: %w", storedProductID, purchaseerrors.ErrConcurrentModification),
			expectedCode: http.StatusConflict,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrConcurrentModification.Error()}),
		},
		{
			name:         "Error - lock timeout",
			userID:       shopperID,
			err:          fmt.Errorf("cart: %w", purchaseerrors.ErrLockTimeout),
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrLockTimeout.Error()}),
			retryAfter:   "1",
		},
		{
			name:         "Error - service error",
			userID:       shopperID,
			err:          errors.New("connection reset"),
			expectedCode: http.StatusInternalServerError,
			expectedBody: toJSON(t, ErrorResponse{Error: "Failed to complete purchase"}),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			svc := &mockPurchasingService{}
			svc.On("CompletePurchase", mock.Anything, tc.userID).Return(tc.result, tc.err).Maybe()
			router := newRouter(svc)

			// when
			rr := doRequest(router, http.MethodPost, "/api/v1/cart/checkout", tc.userID, "")

			// then
			assert.Equal(t, tc.expectedCode, rr.Code, "status code should match")
			if tc.expectedBody != "" {
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
				assert.JSONEq(t, tc.expectedBody, rr.Body.String(), "response body should match")
			}
			assert.Equal(t, tc.retryAfter, rr.Header().Get("Retry-After"))
		})
	}
}

func Test_Handler_AddLine(t *testing.T) {
	shopperID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174001")
	storedProductID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174003")
	lineID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174005")

	testCases := []struct {
		name         string
		body         string
		mockSetup    func(m *mockPurchasingService)
		expectedCode int
		expectedBody string
	}{
		{
			name: "Success - line added",
			body: fmt.Sprintf(`{"stored_product_id":%q,"quantity":2}`, storedProductID),
			mockSetup: func(m *mockPurchasingService) {
				m.On("AddLine", mock.Anything, shopperID, service.AddLineDto{StoredProductID: storedProductID, Quantity: 2}).
					Return(&service.CartLineDto{ID: lineID, StoredProductID: storedProductID, Quantity: 2}, nil)
			},
			expectedCode: http.StatusOK,
			expectedBody: toJSON(t, service.CartLineDto{ID: lineID, StoredProductID: storedProductID, Quantity: 2}),
		},
		{
			name:         "Error - zero quantity",
			body:         fmt.Sprintf(`{"stored_product_id":%q,"quantity":0}`, storedProductID),
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"validation_errors":{"Quantity":"failed on rule: required"}}`,
		},
		{
			name:         "Error - negative quantity",
			body:         fmt.Sprintf(`{"stored_product_id":%q,"quantity":-3}`, storedProductID),
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"validation_errors":{"Quantity":"failed on rule: min"}}`,
		},
		{
			name:         "Error - invalid body",
			body:         `{"stored_product_id":`,
			expectedCode: http.StatusBadRequest,
			expectedBody: toJSON(t, ErrorResponse{Error: "Invalid request body"}),
		},
		{
			name: "Error - stored product not found",
			body: fmt.Sprintf(`{"stored_product_id":%q,"quantity":1}`, storedProductID),
			mockSetup: func(m *mockPurchasingService) {
				m.On("AddLine", mock.Anything, shopperID, mock.Anything).Return(nil, purchaseerrors.ErrInventoryRecordNotFound)
			},
			expectedCode: http.StatusNotFound,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrInventoryRecordNotFound.Error()}),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			svc := &mockPurchasingService{}
			if tc.mockSetup != nil {
				tc.mockSetup(svc)
			}
			router := newRouter(svc)

			// when
			rr := doRequest(router, http.MethodPost, "/api/v1/cart/lines", shopperID, tc.body)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code)
			assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func Test_Handler_RemoveLine(t *testing.T) {
	shopperID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174001")
	storedProductID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174003")

	// given
	svc := &mockPurchasingService{}
	svc.On("RemoveLine", mock.Anything, shopperID, storedProductID).Return(nil).Once()
	svc.On("RemoveLine", mock.Anything, shopperID, storedProductID).Return(purchaseerrors.ErrLineNotFound).Once()
	router := newRouter(svc)

	// when
	removed := doRequest(router, http.MethodDelete, "/api/v1/cart/lines/"+storedProductID.String(), shopperID, "")
	missing := doRequest(router, http.MethodDelete, "/api/v1/cart/lines/"+storedProductID.String(), shopperID, "")
	invalid := doRequest(router, http.MethodDelete, "/api/v1/cart/lines/not-a-uuid", shopperID, "")

	// then
	assert.Equal(t, http.StatusNoContent, removed.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.JSONEq(t, toJSON(t, ErrorResponse{Error: "Invalid ID: not-a-uuid"}), invalid.Body.String())
	svc.AssertExpectations(t)
}

func Test_Handler_OpenCart(t *testing.T) {
	shopperID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174001")
	cartID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174006")
	cart := &service.CartDto{ID: cartID, ShopperID: shopperID, CreatedAt: "2025-03-01T10:00:00Z", Lines: []service.CartLineDto{}}

	testCases := []struct {
		name         string
		result       *service.CartDto
		err          error
		expectedCode int
	}{
		{name: "Success - cart opened", result: cart, expectedCode: http.StatusCreated},
		{name: "Error - shopper not found", err: purchaseerrors.ErrShopperNotFound, expectedCode: http.StatusNotFound},
		{name: "Error - cart already exists", err: purchaseerrors.ErrCartAlreadyExists, expectedCode: http.StatusConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			svc := &mockPurchasingService{}
			svc.On("OpenCart", mock.Anything, shopperID).Return(tc.result, tc.err)
			router := newRouter(svc)

			// when
			rr := doRequest(router, http.MethodPost, "/api/v1/cart", shopperID, "")

			// then
			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.result != nil {
				assert.JSONEq(t, toJSON(t, tc.result), rr.Body.String())
			}
		})
	}
}

func Test_Handler_ListPurchases(t *testing.T) {
	shopperID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174001")
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name         string
		query        string
		mockSetup    func(m *mockPurchasingService)
		expectedCode int
		expectedBody string
	}{
		{
			name:  "Success - no range",
			query: "",
			mockSetup: func(m *mockPurchasingService) {
				m.On("ListPurchases", mock.Anything, shopperID, (*time.Time)(nil), (*time.Time)(nil)).Return([]service.PurchaseDto{}, nil)
			},
			expectedCode: http.StatusOK,
			expectedBody: `[]`,
		},
		{
			name:  "Success - with range",
			query: "?start=2025-01-01T00:00:00Z&end=2025-02-01T00:00:00Z",
			mockSetup: func(m *mockPurchasingService) {
				m.On("ListPurchases", mock.Anything, shopperID,
					mock.MatchedBy(func(t *time.Time) bool { return t != nil && t.Equal(start) }),
					mock.MatchedBy(func(t *time.Time) bool { return t != nil && t.Equal(end) }),
				).Return([]service.PurchaseDto{}, nil)
			},
			expectedCode: http.StatusOK,
			expectedBody: `[]`,
		},
		{
			name:         "Error - malformed start",
			query:        "?start=yesterday",
			expectedCode: http.StatusBadRequest,
			expectedBody: toJSON(t, ErrorResponse{Error: "Invalid start timestamp, expected RFC3339: yesterday"}),
		},
		{
			name:  "Error - start after end",
			query: "?start=2025-02-01T00:00:00Z&end=2025-01-01T00:00:00Z",
			mockSetup: func(m *mockPurchasingService) {
				m.On("ListPurchases", mock.Anything, shopperID, mock.Anything, mock.Anything).Return(nil, purchaseerrors.ErrInvalidDateRange)
			},
			expectedCode: http.StatusBadRequest,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrInvalidDateRange.Error()}),
		},
		{
			name:  "Error - buyer not found",
			query: "",
			mockSetup: func(m *mockPurchasingService) {
				m.On("ListPurchases", mock.Anything, shopperID, mock.Anything, mock.Anything).Return(nil, purchaseerrors.ErrBuyerNotFound)
			},
			expectedCode: http.StatusNotFound,
			expectedBody: toJSON(t, ErrorResponse{Error: purchaseerrors.ErrBuyerNotFound.Error()}),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			svc := &mockPurchasingService{}
			if tc.mockSetup != nil {
				tc.mockSetup(svc)
			}
			router := newRouter(svc)

			// when
			rr := doRequest(router, http.MethodGet, "/api/v1/purchases"+tc.query, shopperID, "")

			// then
			require.Equal(t, tc.expectedCode, rr.Code)
			assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func Test_Handler_GetPurchase(t *testing.T) {
	shopperID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174001")
	purchaseID, _ := uuid.Parse("123e4567-e89b-12d3-a456-426614174002")

	// given
	svc := &mockPurchasingService{}
	svc.On("GetPurchase", mock.Anything, shopperID, purchaseID).Return(nil, purchaseerrors.ErrPurchaseNotFound)
	router := newRouter(svc)

	// when
	rr := doRequest(router, http.MethodGet, "/api/v1/purchases/"+purchaseID.String(), shopperID, "")

	// then
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, toJSON(t, ErrorResponse{Error: purchaseerrors.ErrPurchaseNotFound.Error()}), rr.Body.String())
}
