package service

import (
	"context"
	"sort"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// InventoryLedger decrements product stock inside a verification transaction.
// It never commits on its own.
type InventoryLedger struct {
	logger *logging.Logger
}

// NewInventoryLedger creates a ledger that logs shortfalls to logger.
func NewInventoryLedger(logger *logging.Logger) *InventoryLedger {
	return &InventoryLedger{logger: logger}
}

// Reserve checks every line against current stock and only then decrements.
// Lines for the same product are summed. The first shortfall is returned as
// an InsufficientStockError and nothing is decremented.
func (l *InventoryLedger) Reserve(ctx context.Context, tx repository.Tx, items []models.OrderItem) error {
	need := make(map[string]int, len(items))
	for _, item := range items {
		need[item.ProductID] += item.Quantity
	}

	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	products, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return err
	}

	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return &errors.InsufficientStockError{ProductID: id, Requested: need[id]}
		}
		if p.Quantity < need[id] {
			return &errors.InsufficientStockError{ProductID: id, Requested: need[id], Available: p.Quantity}
		}
	}

	for _, id := range ids {
		if err := tx.DecrementStock(ctx, id, need[id]); err != nil {
			return err
		}
	}

	l.logger.Debug("Stock reserved", logging.Fields{"products": len(ids)})
	return nil
}
