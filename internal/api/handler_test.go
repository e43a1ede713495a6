package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradehub/internal/auth"
	"tradehub/internal/models"
	"tradehub/internal/service"
	"tradehub/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	store   *memory.Store
	jwt     *auth.Validator
	buyer   uuid.UUID
	seller  uuid.UUID
	listing models.Listing
}

func newTestServer(t *testing.T, ready ...Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		t:      t,
		store:  memory.New(),
		jwt:    auth.NewValidator("test-secret"),
		buyer:  uuid.New(),
		seller: uuid.New(),
	}
	ts.listing = models.Listing{
		ID:                uuid.New(),
		SellerID:          ts.seller,
		Title:             "Maize",
		Unit:              "bag",
		PricePerUnit:      decimal.NewFromInt(50),
		DeliveryFee:       decimal.NewFromInt(10),
		AvailableQuantity: 100,
		Active:            true,
	}
	ts.store.PutListing(ts.listing)

	notifications := service.NewNotificationService(ts.store)
	fx := service.Effects{Notifier: notifications}
	svc := Services{
		Orders: service.NewOrderService(ts.store, ts.store, nil, fx, service.OrderServiceConfig{
			MaxActiveOrdersPerSeller: 2,
		}),
		Samples:       service.NewSampleService(ts.store, ts.store, fx),
		Negotiations:  service.NewNegotiationService(ts.store, ts.store, fx, time.Hour),
		Notifications: notifications,
		Reviews:       service.NewReviewService(ts.store, ts.store, ts.store, fx),
		Chat:          service.NewChatService(ts.store, ts.store, fx, 1000),
		Stats:         service.NewStatsService(ts.store),
	}

	ts.router = gin.New()
	NewHandler(svc, nil, ts.jwt, ready...).SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) token(userID uuid.UUID) string {
	tok, err := ts.jwt.GenerateToken(auth.Identity{UserID: userID, Name: "user"}, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path string, as uuid.UUID, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(as))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (ts *testServer) placeOrder(quantity int) map[string]any {
	w := ts.do(http.MethodPost, "/api/v1/orders", ts.buyer, gin.H{
		"listing_id": ts.listing.ID,
		"quantity":   quantity,
	})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody(ts.t, w)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}

func TestReadinessReflectsDependencies(t *testing.T) {
	ts := newTestServer(t, pingFunc(func(ctx context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", uuid.Nil, nil).Code)

	down := newTestServer(t, pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }))
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/ready", uuid.Nil, nil).Code)
}

func TestRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/orders", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, w)["kind"])
}

func TestPlaceOrderComputesTotal(t *testing.T) {
	ts := newTestServer(t)

	order := ts.placeOrder(2)
	assert.Equal(t, "110", order["total_price"])
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "await_confirmation", order["next_action"])
}

func TestPlaceOrderBindingErrors(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/orders", ts.buyer, gin.H{"listing_id": ts.listing.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decodeBody(t, w)["kind"])
}

func TestCeilingMapsToTooManyRequests(t *testing.T) {
	ts := newTestServer(t)
	ts.placeOrder(1)
	ts.placeOrder(1)

	w := ts.do(http.MethodPost, "/api/v1/orders", ts.buyer, gin.H{
		"listing_id": ts.listing.ID,
		"quantity":   1,
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "admission_rejected", body["kind"])
	assert.NotEmpty(t, body["details"])
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(1)["id"].(string)

	w := ts.do(http.MethodPatch, "/api/v1/orders/"+id+"/status", ts.buyer, gin.H{"action": "ship"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPatch, "/api/v1/orders/"+id+"/status", ts.seller, gin.H{"action": "confirm"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(http.MethodPost, "/api/v1/orders/"+id+"/complete", ts.buyer, gin.H{"code": "ABC123"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", decodeBody(t, w)["kind"])

	w = ts.do(http.MethodPatch, "/api/v1/orders/"+id+"/status", ts.seller, gin.H{"action": "ship"})
	require.Equal(t, http.StatusOK, w.Code)
	code, _ := decodeBody(t, w)["seller_exchange_code"].(string)
	require.NotEmpty(t, code)

	w = ts.do(http.MethodGet, "/api/v1/orders/"+id, ts.buyer, nil)
	assert.Nil(t, decodeBody(t, w)["seller_exchange_code"])

	w = ts.do(http.MethodPost, "/api/v1/orders/"+id+"/complete", ts.buyer, gin.H{"code": "WRONG1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/orders/"+id+"/complete", ts.buyer, gin.H{"code": code})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decodeBody(t, w)["status"])
}

func TestUnknownActionRejected(t *testing.T) {
	ts := newTestServer(t)
	id := ts.placeOrder(1)["id"].(string)

	w := ts.do(http.MethodPatch, "/api/v1/orders/"+id+"/status", ts.seller, gin.H{"action": "teleport"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidIDParam(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/orders/not-a-uuid", ts.buyer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), ts.buyer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSampleRejectAndRequestAgain(t *testing.T) {
	ts := newTestServer(t)
	req := gin.H{"listing_id": ts.listing.ID, "delivery_address": "Stall 4"}

	w := ts.do(http.MethodPost, "/api/v1/samples", ts.buyer, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody(t, w)["id"].(string)

	w = ts.do(http.MethodPost, "/api/v1/samples", ts.buyer, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_exists", decodeBody(t, w)["kind"])

	w = ts.do(http.MethodDelete, "/api/v1/samples/"+id, ts.seller, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/samples/"+id, ts.buyer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/samples", ts.buyer, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestNegotiationAgreementReprices(t *testing.T) {
	ts := newTestServer(t)
	orderID := ts.placeOrder(1)["id"].(string)

	w := ts.do(http.MethodPost, "/api/v1/negotiations", ts.buyer, gin.H{
		"order_id":     orderID,
		"base_price":   "40",
		"delivery_fee": "5",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	n := decodeBody(t, w)
	id := n["id"].(string)
	offerID := n["messages"].([]any)[1].(map[string]any)["id"].(string)

	w = ts.do(http.MethodPost, "/api/v1/negotiations/"+id+"/accept", ts.buyer, gin.H{"messageId": offerID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/negotiations/"+id+"/accept", ts.seller, gin.H{"messageId": offerID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "agreed", decodeBody(t, w)["status"])

	w = ts.do(http.MethodGet, "/api/v1/orders/"+orderID, ts.buyer, nil)
	assert.Equal(t, "45", decodeBody(t, w)["total_price"])
}

func TestNotificationRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.placeOrder(1)

	w := ts.do(http.MethodGet, "/api/v1/notifications/summary", ts.seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["unread_count"])

	w = ts.do(http.MethodGet, "/api/v1/notifications?unread=true", ts.seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody(t, w)["notifications"].([]any)
	require.Len(t, list, 1)
	id := list[0].(map[string]any)["id"].(string)

	w = ts.do(http.MethodPatch, "/api/v1/notifications/"+id+"/read", ts.buyer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPatch, "/api/v1/notifications/read-all", ts.seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["updated"])

	w = ts.do(http.MethodPatch, "/api/v1/notifications/read-all", ts.seller, nil)
	assert.EqualValues(t, 0, decodeBody(t, w)["updated"])
}

func TestStatsDefaultToZero(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/users/"+ts.seller.String()+"/stats", ts.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ts.seller.String(), decodeBody(t, w)["user_id"])
}
