package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// MemoryStore is an in-process Store. Transactions are serialized behind a
// single mutex and their writes are staged until commit.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	byGateway map[string]string
	products  map[string]*models.Product
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*models.Order),
		byGateway: make(map[string]string),
		products:  make(map[string]*models.Product),
		now:       time.Now,
	}
}

// PutProduct inserts or replaces a catalog product.
func (s *MemoryStore) PutProduct(p *models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.products[p.ID] = &c
}

// Product returns a copy of a catalog product.
func (s *MemoryStore) Product(id string) (*models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, false
	}
	c := *p
	return &c, true
}

func (s *MemoryStore) GetDraft(ctx context.Context, userID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d := s.draftLocked(userID); d != nil {
		return d.Clone(), nil
	}
	return nil, errors.ErrNotFound
}

func (s *MemoryStore) SaveDraft(ctx context.Context, order *models.Order) (*models.Order, error) {
	return s.saveDraft(order, false)
}

func (s *MemoryStore) SavePaymentAttempt(ctx context.Context, order *models.Order) (*models.Order, error) {
	return s.saveDraft(order, true)
}

func (s *MemoryStore) saveDraft(order *models.Order, withPayment bool) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing := s.draftLocked(order.UserID)
	if existing == nil {
		stored := order.Clone()
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		stored.IsDraft = true
		if !withPayment {
			stored.Payment = models.Payment{}
		}
		s.orders[stored.ID] = stored
		s.indexPaymentLocked(stored, "")
		return stored.Clone(), nil
	}

	prevGateway := existing.Payment.GatewayOrderID
	existing.Items = append([]models.OrderItem(nil), order.Items...)
	existing.ShippingAddress = order.ShippingAddress
	existing.SetPricing(order.ItemsPrice, order.ShippingFee, order.MembershipDiscount)
	existing.Currency = order.Currency
	existing.DraftExpiresAt = order.DraftExpiresAt
	existing.UpdatedAt = now
	switch {
	case withPayment:
		existing.Payment = order.Clone().Payment
		s.indexPaymentLocked(existing, prevGateway)
	case existing.Payment.Status == models.PaymentStatusPending:
		// the open gateway transaction was priced for the old basket
		existing.Payment = models.Payment{}
		s.indexPaymentLocked(existing, prevGateway)
	}
	return existing.Clone(), nil
}

func (s *MemoryStore) CountConfirmed(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, o := range s.orders {
		if o.UserID == userID && !o.IsDraft {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListConfirmed(ctx context.Context, userID string) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID && !o.IsDraft {
			out = append(out, o.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:    s,
		orders:   make(map[string]*models.Order),
		products: make(map[string]*models.Product),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	return nil
}

func (s *MemoryStore) draftLocked(userID string) *models.Order {
	for _, o := range s.orders {
		if o.UserID == userID && o.IsDraft {
			return o
		}
	}
	return nil
}

func (s *MemoryStore) indexPaymentLocked(o *models.Order, previous string) {
	if previous != "" && previous != o.Payment.GatewayOrderID {
		delete(s.byGateway, previous)
	}
	if o.Payment.GatewayOrderID != "" {
		s.byGateway[o.Payment.GatewayOrderID] = o.ID
	}
}

// memoryTx stages order and product writes; the store lock is held for its
// whole lifetime.
type memoryTx struct {
	store    *MemoryStore
	orders   map[string]*models.Order
	products map[string]*models.Product
}

func (t *memoryTx) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	id, ok := t.store.byGateway[gatewayOrderID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if o, ok := t.orders[id]; ok {
		return o.Clone(), nil
	}
	o, ok := t.store.orders[id]
	if !ok || o.Payment.GatewayOrderID != gatewayOrderID {
		return nil, errors.ErrNotFound
	}
	return o.Clone(), nil
}

func (t *memoryTx) GetProducts(ctx context.Context, productIDs []string) (map[string]*models.Product, error) {
	out := make(map[string]*models.Product, len(productIDs))
	for _, id := range productIDs {
		if p := t.product(id); p != nil {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	p := t.product(productID)
	if p == nil {
		return &errors.InsufficientStockError{ProductID: productID, Requested: qty}
	}
	if p.Quantity < qty {
		return &errors.InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Quantity}
	}
	staged := *p
	staged.Quantity -= qty
	t.products[productID] = &staged
	return nil
}

func (t *memoryTx) UpdatePayment(ctx context.Context, order *models.Order) error {
	base, ok := t.orders[order.ID]
	if !ok {
		base, ok = t.store.orders[order.ID]
	}
	if !ok {
		return errors.ErrNotFound
	}
	staged := base.Clone()
	staged.Payment = order.Clone().Payment
	staged.IsDraft = order.IsDraft
	staged.UpdatedAt = t.store.now()
	t.orders[order.ID] = staged
	return nil
}

func (t *memoryTx) product(id string) *models.Product {
	if p, ok := t.products[id]; ok {
		return p
	}
	return t.store.products[id]
}
