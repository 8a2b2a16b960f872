package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

const testSecret = "test_key_secret"

type fakeGateway struct {
	mu      sync.Mutex
	calls   []int64
	err     error
	counter int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*models.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, amount)
	if g.err != nil {
		return nil, g.err
	}
	g.counter++
	return &models.GatewayOrder{
		ID:       fmt.Sprintf("order_gw%d", g.counter),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

type fakeMembership struct {
	members map[string]bool
	err     error
}

func (m *fakeMembership) IsActive(ctx context.Context, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.members[userID], nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	orders []*models.Order
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

type testEnv struct {
	store    *repository.MemoryStore
	gateway  *fakeGateway
	member   *fakeMembership
	notifier *fakeNotifier
	cfg      *config.Config
	drafts   *DraftService
	payments *PaymentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Load()
	cfg.Gateway.KeySecret = testSecret
	cfg.Gateway.Currency = "INR"
	cfg.Pricing.ShippingFee = decimal.NewFromInt(50)

	env := &testEnv{
		store:    repository.NewMemoryStore(),
		gateway:  &fakeGateway{},
		member:   &fakeMembership{members: map[string]bool{}},
		notifier: &fakeNotifier{},
		cfg:      cfg,
	}
	logger := logging.NewNop()
	env.drafts = NewDraftService(env.store, cfg, nil, logger)
	env.payments = NewPaymentService(env.store, env.gateway, env.member, env.notifier, nil, cfg, nil, logger)
	return env
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func testAddress() models.Address {
	return models.Address{
		FirstName:     "Asha",
		LastName:      "Rao",
		StreetAddress: "12 MG Road",
		City:          "Bengaluru",
		State:         "KA",
		Postcode:      "560001",
		Phone:         "+919800000000",
		Email:         "asha@example.com",
	}
}

// basket is A x2 @ 100 and B x1 @ 50.
func basket() []models.OrderItem {
	return []models.OrderItem{
		{ProductID: "A", Name: "Mug", Price: decimal.NewFromInt(100), Quantity: 2},
		{ProductID: "B", Name: "Coaster", Price: decimal.NewFromInt(50), Quantity: 1},
	}
}

// initiate opens a gateway transaction for the user's basket and returns the
// gateway order id.
func (e *testEnv) initiate(t *testing.T, userID string, items []models.OrderItem, itemsPrice, shipping string) string {
	t.Helper()
	resp, err := e.payments.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
		UserID:          userID,
		ItemsPrice:      dec(itemsPrice),
		ShippingPrice:   dec(shipping),
		Items:           items,
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("InitiatePayment() error = %v", err)
	}
	return resp.GatewayOrderID
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, ok := e.store.Product(id)
	if !ok {
		t.Fatalf("product %s not found", id)
	}
	return p.Quantity
}

func verifyRequest(gatewayOrderID, paymentID string) *models.VerifyPaymentRequest {
	return &models.VerifyPaymentRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        SignPayment(testSecret, gatewayOrderID, paymentID),
	}
}
