package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/oakmere/storefront-backend/api/middleware"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
)

type stubCartService struct {
	cart *models.Cart
	err  error

	addedProduct uuid.UUID
	addedQty     int
}

func (s *stubCartService) Get(ctx context.Context, sessionID string) (*models.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) AddItem(ctx context.Context, sessionID string, productID uuid.UUID, qty int) (*models.Cart, error) {
	s.addedProduct = productID
	s.addedQty = qty
	return s.cart, s.err
}

func (s *stubCartService) UpdateItem(ctx context.Context, sessionID string, productID uuid.UUID, qty int) (*models.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) RemoveItem(ctx context.Context, sessionID string, productID uuid.UUID) (*models.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) Clear(ctx context.Context, sessionID string) (*models.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) ApplyDiscount(ctx context.Context, sessionID, code string) (*models.Cart, error) {
	return s.cart, s.err
}

func withSession(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithSessionID(req.Context(), "sess-test"))
}

func TestCartGetSuccess(t *testing.T) {
	cart := &models.Cart{
		ID:        uuid.New(),
		SessionID: "sess-test",
		Status:    enums.CartStatusActive,
	}
	handler := CartGet(&stubCartService{cart: cart}, nil)

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data cartResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ID != cart.ID {
		t.Fatalf("unexpected cart id: %s", envelope.Data.ID)
	}
	if envelope.Data.Status != string(enums.CartStatusActive) {
		t.Fatalf("unexpected status: %s", envelope.Data.Status)
	}
}

func TestCartGetMissingSession(t *testing.T) {
	handler := CartGet(&stubCartService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartAddItemCreated(t *testing.T) {
	productID := uuid.New()
	svc := &stubCartService{cart: &models.Cart{
		ID:        uuid.New(),
		SessionID: "sess-test",
		Status:    enums.CartStatusActive,
		Items: []models.CartItem{{
			ProductID: productID,
			Qty:       2,
		}},
	}}
	handler := CartAddItem(svc, nil)

	body := `{"productId":"` + productID.String() + `","qty":2}`
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if svc.addedProduct != productID || svc.addedQty != 2 {
		t.Fatalf("service called with %s qty=%d", svc.addedProduct, svc.addedQty)
	}
}

func TestCartAddItemRejectsZeroQty(t *testing.T) {
	handler := CartAddItem(&stubCartService{}, nil)

	body := `{"productId":"` + uuid.NewString() + `","qty":0}`
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartAddItemRejectsUnknownFields(t *testing.T) {
	handler := CartAddItem(&stubCartService{}, nil)

	body := `{"productId":"` + uuid.NewString() + `","qty":1,"price":99}`
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartAddItemInsufficientStock(t *testing.T) {
	svcErr := pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails([]map[string]any{{"available": 2}})
	handler := CartAddItem(&stubCartService{err: svcErr}, nil)

	body := `{"productId":"` + uuid.NewString() + `","qty":5}`
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details any    `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInsufficientStock) {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}
	if envelope.Error.Details == nil {
		t.Fatal("expected shortfall details in response")
	}
}

func TestCartApplyDiscountUnknownCode(t *testing.T) {
	handler := CartApplyDiscount(&stubCartService{err: pkgerrors.New(pkgerrors.CodeValidation, "unknown discount code")}, nil)

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/cart/discount", strings.NewReader(`{"code":"NOPE"}`)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
