// Package memory is an in-process implementation of the store contract used
// for tests and single-node development runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradehub/internal/models"
	"tradehub/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	listings      map[uuid.UUID]models.Listing
	orders        map[uuid.UUID]models.Order
	samples       map[uuid.UUID]models.Sample
	negotiations  map[uuid.UUID]models.Negotiation
	notifications map[uuid.UUID]models.Notification
	threads       map[uuid.UUID]models.ChatThread // keyed by order id
	chatMessages  []models.ChatMessage
	groupMessages []models.GroupMessage
	reviews       []models.Review
	stats         map[uuid.UUID]models.UserStats
	processed     map[string]bool
}

// New creates an empty store
func New() *Store {
	return &Store{
		listings:      make(map[uuid.UUID]models.Listing),
		orders:        make(map[uuid.UUID]models.Order),
		samples:       make(map[uuid.UUID]models.Sample),
		negotiations:  make(map[uuid.UUID]models.Negotiation),
		notifications: make(map[uuid.UUID]models.Notification),
		threads:       make(map[uuid.UUID]models.ChatThread),
		stats:         make(map[uuid.UUID]models.UserStats),
		processed:     make(map[string]bool),
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// PutListing seeds a catalog listing
func (s *Store) PutListing(listing models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listing.ID] = listing
}

// GetListing retrieves the catalog snapshot of a listing
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

// Orders

func (s *Store) CreateOrderWithinCeiling(ctx context.Context, order *models.Order, ceiling int) (int, error) {
	order.RecomputeTotal()

	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, o := range s.orders {
		if o.SellerID == order.SellerID && !o.Status.IsTerminal() {
			active++
		}
	}
	if ceiling > 0 && active >= ceiling {
		return active, store.ErrCeilingReached
	}
	if _, ok := s.orders[order.ID]; ok {
		return active, store.ErrDuplicate
	}
	s.orders[order.ID] = *order
	return active, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.IsParty(userID) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, expected models.OrderStatus) error {
	order.RecomputeTotal()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateOrderLocked(order, expected)
}

func (s *Store) updateOrderLocked(order *models.Order, expected models.OrderStatus) error {
	current, ok := s.orders[order.ID]
	if !ok || current.Status != expected {
		return store.ErrConflict
	}
	for id, o := range s.orders {
		if id == order.ID {
			continue
		}
		if codeTaken(order.BuyerExchangeCode, o) || codeTaken(order.SellerExchangeCode, o) {
			return fmt.Errorf("%w: exchange code", store.ErrDuplicate)
		}
	}
	s.orders[order.ID] = *order
	return nil
}

func codeTaken(code string, o models.Order) bool {
	return code != "" && (code == o.BuyerExchangeCode || code == o.SellerExchangeCode)
}

// Samples

func (s *Store) CreateSample(ctx context.Context, sample *models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.samples {
		if existing.ReceiverID == sample.ReceiverID && existing.ListingID == sample.ListingID &&
			existing.Status != models.SampleStatusReviewed {
			return fmt.Errorf("%w: samples_active_unique", store.ErrDuplicate)
		}
	}
	s.samples[sample.ID] = *sample
	return nil
}

func (s *Store) GetSampleByID(ctx context.Context, id uuid.UUID) (*models.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sample, nil
}

func (s *Store) ListSamplesByUser(ctx context.Context, userID uuid.UUID) ([]models.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Sample
	for _, sample := range s.samples {
		if sample.IsParty(userID) {
			out = append(out, sample)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSample(ctx context.Context, sample *models.Sample, expected models.SampleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSampleLocked(sample, expected)
}

func (s *Store) updateSampleLocked(sample *models.Sample, expected models.SampleStatus) error {
	current, ok := s.samples[sample.ID]
	if !ok || current.Status != expected {
		return store.ErrConflict
	}
	if sample.ExchangeCode != "" {
		for id, other := range s.samples {
			if id != sample.ID && other.ExchangeCode == sample.ExchangeCode {
				return fmt.Errorf("%w: exchange code", store.ErrDuplicate)
			}
		}
	}
	s.samples[sample.ID] = *sample
	return nil
}

func (s *Store) DeleteSample(ctx context.Context, id uuid.UUID, expected models.SampleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.samples[id]
	if !ok || current.Status != expected {
		return store.ErrConflict
	}
	delete(s.samples, id)
	return nil
}

// Negotiations

func cloneNegotiation(n models.Negotiation) models.Negotiation {
	n.Messages = append([]models.NegotiationMessage(nil), n.Messages...)
	if n.FinalPrice != nil {
		final := *n.FinalPrice
		n.FinalPrice = &final
	}
	return n
}

func (s *Store) CreateNegotiation(ctx context.Context, n *models.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.negotiations {
		if existing.OrderID == n.OrderID {
			return fmt.Errorf("%w: negotiations_order_id_key", store.ErrDuplicate)
		}
	}
	s.negotiations[n.ID] = cloneNegotiation(*n)
	return nil
}

func (s *Store) GetNegotiationByID(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.negotiations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	n = cloneNegotiation(n)
	return &n, nil
}

func (s *Store) GetNegotiationByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.negotiations {
		if n.OrderID == orderID {
			n = cloneNegotiation(n)
			return &n, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListNegotiationsByUser(ctx context.Context, userID uuid.UUID) ([]models.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Negotiation
	for _, n := range s.negotiations {
		if n.IsParty(userID) {
			out = append(out, cloneNegotiation(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (s *Store) updateNegotiationLocked(n *models.Negotiation, expected models.NegotiationStatus, msgs []models.NegotiationMessage) error {
	current, ok := s.negotiations[n.ID]
	if !ok || current.Status != expected {
		return store.ErrConflict
	}
	next := cloneNegotiation(*n)
	next.Messages = append(current.Messages, msgs...)
	s.negotiations[n.ID] = next
	return nil
}

func (s *Store) UpdateNegotiation(ctx context.Context, n *models.Negotiation, expected models.NegotiationStatus, msgs ...models.NegotiationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateNegotiationLocked(n, expected, msgs)
}

func (s *Store) AgreeNegotiation(ctx context.Context, n *models.Negotiation, msg models.NegotiationMessage, order *models.Order) error {
	order.RecomputeTotal()
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.negotiations[n.ID]
	if !ok || current.Status != models.NegotiationStatusActive {
		return store.ErrConflict
	}
	stored, ok := s.orders[order.ID]
	if !ok || stored.Status != models.OrderStatusPending {
		return store.ErrConflict
	}
	if err := s.updateNegotiationLocked(n, models.NegotiationStatusActive, []models.NegotiationMessage{msg}); err != nil {
		return err
	}
	s.orders[order.ID] = *order
	return nil
}

// Notifications

func (s *Store) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range notifications {
		if _, ok := s.notifications[n.ID]; ok {
			return store.ErrDuplicate
		}
	}
	for _, n := range notifications {
		stored := *n
		if len(stored.Payload) == 0 {
			stored.Payload = json.RawMessage("{}")
		}
		s.notifications[n.ID] = stored
	}
	return nil
}

func (s *Store) GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID uuid.UUID, filter models.NotificationFilter, now time.Time) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID || n.Expired(now) {
			continue
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		if filter.Category != "" && n.Category != filter.Category {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead && !n.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id uuid.UUID, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	n.IsRead = true
	if n.ReadAt == nil {
		n.ReadAt = &now
	}
	s.notifications[id] = n
	return &n, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for id, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &now
			s.notifications[id] = n
			updated++
		}
	}
	return updated, nil
}

func (s *Store) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.notifications {
		if n.Expired(now) {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

// Chat

func (s *Store) GetOrCreateChatThread(ctx context.Context, order *models.Order) (*models.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[order.ID]; ok {
		return &t, nil
	}
	now := time.Now()
	t := models.ChatThread{
		ID:        uuid.New(),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[order.ID] = t
	return &t, nil
}

func (s *Store) AppendChatMessage(ctx context.Context, msg *models.ChatMessage, recipientID uuid.UUID) (*models.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[msg.OrderID]
	if !ok || t.ID != msg.ThreadID {
		return nil, store.ErrNotFound
	}
	s.chatMessages = append(s.chatMessages, *msg)

	sender := msg.SenderID
	at := msg.CreatedAt
	t.LastMessage = msg.Body
	t.LastSenderID = &sender
	t.LastMessageAt = &at
	t.UpdatedAt = at
	switch recipientID {
	case t.BuyerID:
		t.BuyerUnread++
	case t.SellerID:
		t.SellerUnread++
	}
	s.threads[msg.OrderID] = t
	return &t, nil
}

func (s *Store) MarkChatRead(ctx context.Context, orderID, readerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[orderID]
	if !ok {
		return nil
	}
	switch readerID {
	case t.BuyerID:
		t.BuyerUnread = 0
	case t.SellerID:
		t.SellerUnread = 0
	}
	s.threads[orderID] = t
	for i := range s.chatMessages {
		m := &s.chatMessages[i]
		if m.OrderID == orderID && m.SenderID != readerID {
			m.IsRead = true
		}
	}
	return nil
}

func (s *Store) ListChatMessages(ctx context.Context, orderID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.chatMessages {
		if m.OrderID == orderID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMessages = append(s.groupMessages, *msg)
	return nil
}

func (s *Store) ListGroupMessages(ctx context.Context, location string, limit int) ([]models.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GroupMessage
	for _, m := range s.groupMessages {
		if m.Location == location {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Reviews

func (s *Store) insertReviewLocked(r *models.Review) error {
	for _, existing := range s.reviews {
		if existing.ReviewerID != r.ReviewerID {
			continue
		}
		if r.OrderID != nil && existing.OrderID != nil && *existing.OrderID == *r.OrderID {
			return fmt.Errorf("%w: reviews_order_unique", store.ErrDuplicate)
		}
		if r.SampleID != nil && existing.SampleID != nil && *existing.SampleID == *r.SampleID {
			return fmt.Errorf("%w: reviews_sample_unique", store.ErrDuplicate)
		}
	}
	s.reviews = append(s.reviews, *r)
	return nil
}

func (s *Store) CreateOrderReview(ctx context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertReviewLocked(r)
}

func (s *Store) CreateSampleReview(ctx context.Context, r *models.Review, sample *models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.samples[sample.ID]
	if !ok || current.Status != models.SampleStatusReceived {
		return store.ErrConflict
	}
	if err := s.insertReviewLocked(r); err != nil {
		return err
	}
	s.samples[sample.ID] = *sample
	return nil
}

// Reviews returns a copy of all stored reviews
func (s *Store) Reviews() []models.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Review(nil), s.reviews...)
}

// Stats

func (s *Store) ApplyStatsEvent(ctx context.Context, eventID, eventType string, deltas []models.StatsDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[eventID] {
		return false, nil
	}
	next := make(map[uuid.UUID]models.UserStats)
	for _, d := range deltas {
		st, ok := next[d.UserID]
		if !ok {
			st = s.stats[d.UserID]
			st.UserID = d.UserID
		}
		switch d.Column {
		case models.StatOrdersPlaced:
			st.OrdersPlaced += d.Amount
		case models.StatOrdersReceived:
			st.OrdersReceived += d.Amount
		case models.StatOrdersCompleted:
			st.OrdersCompleted += d.Amount
		case models.StatOrdersCancelled:
			st.OrdersCancelled += d.Amount
		case models.StatSamplesRequested:
			st.SamplesRequested += d.Amount
		case models.StatSamplesReceived:
			st.SamplesReceived += d.Amount
		case models.StatNegotiationsAgreed:
			st.NegotiationsAgreed += d.Amount
		case models.StatReviewsReceived:
			st.ReviewsReceived += d.Amount
		default:
			return false, fmt.Errorf("unknown stats column %q", d.Column)
		}
		st.UpdatedAt = time.Now()
		next[d.UserID] = st
	}
	for id, st := range next {
		s.stats[id] = st
	}
	s.processed[eventID] = true
	return true, nil
}

func (s *Store) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		st = models.UserStats{UserID: userID}
	}
	return &st, nil
}
