package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	defaultTxAttempts = 3
	txRetryBackoff    = 25 * time.Millisecond

	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

const orderColumns = `
	id, user_id, items, shipping_address,
	items_price, shipping_fee, membership_discount, total_price, currency,
	is_draft, draft_expires_at,
	gateway_order_id, gateway_payment_id, payment_signature, payment_status, payment_message, paid_at,
	created_at, updated_at`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db          *sql.DB
	logger      *logging.Logger
	maxAttempts int
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to the database and applies the pool settings.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB, logger *logging.Logger) *PostgresStore {
	return &PostgresStore{
		db:          db,
		logger:      logger,
		maxAttempts: defaultTxAttempts,
	}
}

func (r *PostgresStore) GetDraft(ctx context.Context, userID string) (*models.Order, error) {
	r.logger.Debug("Fetching draft", logging.Fields{"user_id": userID})

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND is_draft`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to fetch draft", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}
	return order, nil
}

func (r *PostgresStore) SaveDraft(ctx context.Context, order *models.Order) (*models.Order, error) {
	query := `
		INSERT INTO orders (
			id, user_id, items, shipping_address,
			items_price, shipping_fee, membership_discount, total_price, currency,
			is_draft, draft_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11, $11)
		ON CONFLICT (user_id) WHERE is_draft DO UPDATE SET
			items = EXCLUDED.items,
			shipping_address = EXCLUDED.shipping_address,
			items_price = EXCLUDED.items_price,
			shipping_fee = EXCLUDED.shipping_fee,
			membership_discount = EXCLUDED.membership_discount,
			total_price = EXCLUDED.total_price,
			currency = EXCLUDED.currency,
			draft_expires_at = EXCLUDED.draft_expires_at,
			updated_at = EXCLUDED.updated_at,
			gateway_order_id = CASE WHEN orders.payment_status = 'pending' THEN NULL ELSE orders.gateway_order_id END,
			payment_status = CASE WHEN orders.payment_status = 'pending' THEN '' ELSE orders.payment_status END,
			payment_message = CASE WHEN orders.payment_status = 'pending' THEN '' ELSE orders.payment_message END
		RETURNING ` + orderColumns

	args, err := draftArgs(order)
	if err != nil {
		return nil, err
	}

	saved, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		r.logger.Error("Failed to save draft", logging.Fields{
			"user_id": order.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}

	r.logger.Info("Draft saved", logging.Fields{
		"order_id": saved.ID,
		"user_id":  saved.UserID,
		"total":    saved.TotalPrice.String(),
	})
	return saved, nil
}

func (r *PostgresStore) SavePaymentAttempt(ctx context.Context, order *models.Order) (*models.Order, error) {
	query := `
		INSERT INTO orders (
			id, user_id, items, shipping_address,
			items_price, shipping_fee, membership_discount, total_price, currency,
			is_draft, draft_expires_at, created_at, updated_at,
			gateway_order_id, gateway_payment_id, payment_signature, payment_status, payment_message, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id) WHERE is_draft DO UPDATE SET
			items = EXCLUDED.items,
			shipping_address = EXCLUDED.shipping_address,
			items_price = EXCLUDED.items_price,
			shipping_fee = EXCLUDED.shipping_fee,
			membership_discount = EXCLUDED.membership_discount,
			total_price = EXCLUDED.total_price,
			currency = EXCLUDED.currency,
			draft_expires_at = EXCLUDED.draft_expires_at,
			updated_at = EXCLUDED.updated_at,
			gateway_order_id = EXCLUDED.gateway_order_id,
			gateway_payment_id = EXCLUDED.gateway_payment_id,
			payment_signature = EXCLUDED.payment_signature,
			payment_status = EXCLUDED.payment_status,
			payment_message = EXCLUDED.payment_message,
			paid_at = EXCLUDED.paid_at
		RETURNING ` + orderColumns

	args, err := draftArgs(order)
	if err != nil {
		return nil, err
	}
	args = append(args, paymentArgs(order.Payment)...)

	saved, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		r.logger.Error("Failed to save payment attempt", logging.Fields{
			"user_id":          order.UserID,
			"gateway_order_id": order.Payment.GatewayOrderID,
			"error":            err.Error(),
		})
		return nil, err
	}

	r.logger.Info("Payment attempt saved", logging.Fields{
		"order_id":         saved.ID,
		"gateway_order_id": saved.Payment.GatewayOrderID,
	})
	return saved, nil
}

func (r *PostgresStore) CountConfirmed(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND NOT is_draft`, userID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresStore) ListConfirmed(ctx context.Context, userID string) ([]*models.Order, error) {
	r.logger.Debug("Listing confirmed orders", logging.Fields{"user_id": userID})

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1 AND NOT is_draft
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// WithinTx runs fn in a SERIALIZABLE transaction, retrying from scratch on
// serialization failures and deadlocks.
func (r *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}

		r.logger.Warn("Retrying transaction", logging.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txRetryBackoff):
		}
	}
	return err
}

func (r *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// UpsertProduct writes a catalog product. The checkout itself only ever
// decrements stock; this is used for seeding.
func (r *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Price, p.Quantity)
	return err
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1 FOR UPDATE`

	order, err := scanOrder(t.tx.QueryRowContext(ctx, query, gatewayOrderID))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	return order, err
}

func (t *postgresTx) GetProducts(ctx context.Context, productIDs []string) (map[string]*models.Product, error) {
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, price, quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.Product, len(ids))
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity); err != nil {
			return nil, err
		}
		out[p.ID] = &p
	}
	return out, rows.Err()
}

func (t *postgresTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2`, productID, qty)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 1 {
		return nil
	}

	var available int
	err = t.tx.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	return &errors.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (t *postgresTx) UpdatePayment(ctx context.Context, order *models.Order) error {
	p := order.Payment
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET gateway_payment_id = $2, payment_signature = $3, payment_status = $4,
		    payment_message = $5, paid_at = $6, is_draft = $7, updated_at = now()
		WHERE id = $1`,
		order.ID, p.GatewayPaymentID, p.Signature, string(p.Status), p.Message, nullTime(p.PaidAt), order.IsDraft)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var itemsJSON, addressJSON []byte
	var draftExpiresAt, paidAt sql.NullTime
	var gatewayOrderID sql.NullString
	var status string

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&itemsJSON,
		&addressJSON,
		&order.ItemsPrice,
		&order.ShippingFee,
		&order.MembershipDiscount,
		&order.TotalPrice,
		&order.Currency,
		&order.IsDraft,
		&draftExpiresAt,
		&gatewayOrderID,
		&order.Payment.GatewayPaymentID,
		&order.Payment.Signature,
		&status,
		&order.Payment.Message,
		&paidAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
		return nil, err
	}

	order.Payment.Status = models.PaymentStatus(status)
	if gatewayOrderID.Valid {
		order.Payment.GatewayOrderID = gatewayOrderID.String
	}
	if draftExpiresAt.Valid {
		order.DraftExpiresAt = draftExpiresAt.Time
	}
	if paidAt.Valid {
		order.Payment.PaidAt = &paidAt.Time
	}
	return &order, nil
}

func draftArgs(order *models.Order) ([]interface{}, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, err
	}

	id := order.ID
	if id == "" {
		id = uuid.NewString()
	}

	return []interface{}{
		id,
		order.UserID,
		itemsJSON,
		addressJSON,
		order.ItemsPrice,
		order.ShippingFee,
		order.MembershipDiscount,
		order.TotalPrice,
		order.Currency,
		nullTime(&order.DraftExpiresAt),
		time.Now(),
	}, nil
}

func paymentArgs(p models.Payment) []interface{} {
	gatewayOrderID := sql.NullString{String: p.GatewayOrderID, Valid: p.GatewayOrderID != ""}
	return []interface{}{
		gatewayOrderID,
		p.GatewayPaymentID,
		p.Signature,
		string(p.Status),
		p.Message,
		nullTime(p.PaidAt),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}
