package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type pushed struct {
	userID uuid.UUID
	event  string
}

type fakePusher struct {
	mu     sync.Mutex
	online map[uuid.UUID]bool
	pushes []pushed
}

func newFakePusher() *fakePusher {
	return &fakePusher{online: make(map[uuid.UUID]bool)}
}

func (p *fakePusher) Push(userID uuid.UUID, event string, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return false
	}
	p.pushes = append(p.pushes, pushed{userID: userID, event: event})
	return true
}

func (p *fakePusher) setOnline(userID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.TransactionEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event *models.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeHistory struct {
	mu      sync.Mutex
	changes []models.StatusChange
}

func (h *fakeHistory) Record(ctx context.Context, change models.StatusChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change)
	return nil
}

func (h *fakeHistory) statuses(entityID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, c := range h.changes {
		if c.EntityID == entityID {
			out = append(out, c.NewStatus)
		}
	}
	return out
}

type fakeIdempotency struct {
	mu    sync.Mutex
	keys  map[string]string
	locks map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]string), locks: make(map[string]string)}
}

func (f *fakeIdempotency) SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value
	return nil
}

func (f *fakeIdempotency) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.keys[key]
	return v, ok, nil
}

func (f *fakeIdempotency) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[key]; held {
		return false, nil
	}
	f.locks[key] = token
	return true, nil
}

func (f *fakeIdempotency) ReleaseLock(ctx context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] == token {
		delete(f.locks, key)
	}
	return nil
}

type fixture struct {
	ctx     context.Context
	store   *memory.Store
	pusher  *fakePusher
	events  *fakePublisher
	history *fakeHistory

	notifications *NotificationService
	orders        *OrderService
	samples       *SampleService
	negotiations  *NegotiationService
	reviews       *ReviewService
	chat          *ChatService
	stats         *StatsService

	buyer   uuid.UUID
	seller  uuid.UUID
	listing models.Listing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		store:   memory.New(),
		pusher:  newFakePusher(),
		events:  &fakePublisher{},
		history: &fakeHistory{},
		buyer:   uuid.New(),
		seller:  uuid.New(),
	}
	f.listing = models.Listing{
		ID:                uuid.New(),
		SellerID:          f.seller,
		Title:             "Organic tomatoes",
		Unit:              "kg",
		PricePerUnit:      decimal.NewFromInt(50),
		DeliveryFee:       decimal.NewFromInt(10),
		AvailableQuantity: 100,
		Active:            true,
		Location:          "Nairobi",
	}
	f.store.PutListing(f.listing)

	f.notifications = NewNotificationService(f.store)
	f.notifications.SetPusher(f.pusher)
	fx := Effects{Notifier: f.notifications, Events: f.events, History: f.history}

	f.orders = NewOrderService(f.store, f.store, newFakeIdempotency(), fx, OrderServiceConfig{
		MaxActiveOrdersPerSeller: 10,
		IdempotencyTTL:           time.Hour,
	})
	f.samples = NewSampleService(f.store, f.store, fx)
	f.negotiations = NewNegotiationService(f.store, f.store, fx, 24*time.Hour)
	f.reviews = NewReviewService(f.store, f.store, f.store, fx)
	f.chat = NewChatService(f.store, f.store, fx, 1000)
	f.stats = NewStatsService(f.store)
	return f
}

func (f *fixture) placeOrder(t *testing.T, quantity int) *OrderView {
	t.Helper()
	view, err := f.orders.PlaceOrder(f.ctx, f.buyer, &PlaceOrderRequest{
		ListingID:       f.listing.ID,
		Quantity:        quantity,
		DeliveryAddress: "12 Market Street",
	})
	require.NoError(t, err)
	return view
}

// shippedOrder places, confirms and ships an order and returns the stored
// order including both exchange codes
func (f *fixture) shippedOrder(t *testing.T) *models.Order {
	t.Helper()
	view := f.placeOrder(t, 2)
	_, err := f.orders.UpdateStatus(f.ctx, f.seller, view.ID, ActionConfirm, "")
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(f.ctx, f.seller, view.ID, ActionShip, "")
	require.NoError(t, err)
	order, err := f.store.GetOrderByID(f.ctx, view.ID)
	require.NoError(t, err)
	return order
}

func (f *fixture) completedOrder(t *testing.T) *models.Order {
	t.Helper()
	order := f.shippedOrder(t)
	_, err := f.orders.Complete(f.ctx, f.buyer, order.ID, order.SellerExchangeCode)
	require.NoError(t, err)
	order, err = f.store.GetOrderByID(f.ctx, order.ID)
	require.NoError(t, err)
	return order
}

func (f *fixture) notificationsOf(t *testing.T, user uuid.UUID) []models.Notification {
	t.Helper()
	list, err := f.notifications.List(f.ctx, user, models.NotificationFilter{Limit: 100})
	require.NoError(t, err)
	return list
}

func hasNotification(list []models.Notification, typ models.NotificationType) bool {
	for _, n := range list {
		if n.Type == typ {
			return true
		}
	}
	return false
}

func requireKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperror.KindOf(err), err.Error())
}
