package repository

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// OrderRepository is the non-transactional view of the order store.
type OrderRepository interface {
	// GetDraft returns the user's draft order or errors.ErrNotFound.
	GetDraft(ctx context.Context, userID string) (*models.Order, error)

	// SaveDraft inserts the user's draft or overwrites the existing one.
	// Items, address, pricing and expiry are written. A pending payment on
	// the existing draft is discarded along with its gateway order id, so a
	// callback for it no longer finds the draft. Failed payments are kept.
	// The stored order is returned.
	SaveDraft(ctx context.Context, order *models.Order) (*models.Order, error)

	// SavePaymentAttempt is SaveDraft plus the payment record.
	SavePaymentAttempt(ctx context.Context, order *models.Order) (*models.Order, error)

	// CountConfirmed returns the number of non-draft orders of a user.
	CountConfirmed(ctx context.Context, userID string) (int, error)

	// ListConfirmed returns non-draft orders, newest first.
	ListConfirmed(ctx context.Context, userID string) ([]*models.Order, error)
}

// Store is an OrderRepository that can also run a payment verification
// transaction.
type Store interface {
	OrderRepository

	// WithinTx runs fn in one atomic unit. fn returning an error rolls
	// everything back. fn may be invoked more than once when the database
	// asks for a retry, so it must not keep state between invocations.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a verification transaction.
// Reads lock the rows they return until the transaction ends.
type Tx interface {
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)

	// GetProducts returns the requested products keyed by id. Missing ids
	// are absent from the map.
	GetProducts(ctx context.Context, productIDs []string) (map[string]*models.Product, error)

	// DecrementStock lowers a product's stock, failing with
	// errors.InsufficientStockError when it would go negative.
	DecrementStock(ctx context.Context, productID string, qty int) error

	// UpdatePayment persists the order's payment record and draft flag.
	UpdatePayment(ctx context.Context, order *models.Order) error
}

// OrderHistoryCache caches confirmed order lists per user. Each user has a
// version that InvalidateHistory advances; SetHistory only writes when the
// version read by GetHistory is still current, so a list read from the store
// before a confirmation never overwrites the invalidation.
type OrderHistoryCache interface {
	GetHistory(ctx context.Context, userID string) ([]*models.Order, int64, error)
	SetHistory(ctx context.Context, userID string, orders []*models.Order, version int64) error
	InvalidateHistory(ctx context.Context, userID string) error
}

// NopHistoryCache never hits.
type NopHistoryCache struct{}

func (NopHistoryCache) GetHistory(context.Context, string) ([]*models.Order, int64, error) {
	return nil, 0, nil
}
func (NopHistoryCache) SetHistory(context.Context, string, []*models.Order, int64) error { return nil }
func (NopHistoryCache) InvalidateHistory(context.Context, string) error                  { return nil }
