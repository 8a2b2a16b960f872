package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

func seedStock(env *testEnv, a, b int) {
	env.store.PutProduct(&models.Product{ID: "A", Name: "Mug", Price: decimal.NewFromInt(100), Quantity: a})
	env.store.PutProduct(&models.Product{ID: "B", Name: "Coaster", Price: decimal.NewFromInt(50), Quantity: b})
}

func TestVerifyPayment_ConfirmsFirstOrder(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)
	ctx := context.Background()

	staged, err := env.drafts.StageDraft(ctx, &models.StageDraftRequest{
		UserID:     "user_1",
		Items:      basket(),
		ItemsPrice: dec("250"),
	})
	if err != nil {
		t.Fatalf("StageDraft() error = %v", err)
	}
	if !staged.ShippingFee.IsZero() {
		t.Errorf("Expected free shipping on first order, got %s", staged.ShippingFee)
	}

	gwID := env.initiate(t, "user_1", basket(), "250", staged.ShippingFee.String())

	order, err := env.payments.VerifyPayment(ctx, verifyRequest(gwID, "pay_1"))
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	env.payments.WaitForNotifications()

	if order.IsDraft {
		t.Error("Expected order to be confirmed")
	}
	if order.Payment.Status != models.PaymentStatusSuccessful {
		t.Errorf("Expected status successful, got %s", order.Payment.Status)
	}
	if order.Payment.PaidAt == nil {
		t.Error("Expected paid_at to be set")
	}
	if order.ID != staged.Order.ID {
		t.Errorf("Expected the staged draft %s to be confirmed, got %s", staged.Order.ID, order.ID)
	}
	if got := env.stock(t, "A"); got != 8 {
		t.Errorf("Expected stock of A to be 8, got %d", got)
	}
	if got := env.stock(t, "B"); got != 9 {
		t.Errorf("Expected stock of B to be 9, got %d", got)
	}
	if got := env.notifier.count(); got != 1 {
		t.Errorf("Expected one notification, got %d", got)
	}
	if _, err := env.drafts.GetDraft(ctx, "user_1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected no draft left, got %v", err)
	}
}

func TestVerifyPayment_TamperedSignatureIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)
	ctx := context.Background()

	gwID := env.initiate(t, "user_1", basket(), "250", "0")

	bad := verifyRequest(gwID, "pay_1")
	bad.Signature = SignPayment("wrong_secret", gwID, "pay_1")

	if _, err := env.payments.VerifyPayment(ctx, bad); !errors.Is(err, errors.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}

	draft, err := env.drafts.GetDraft(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetDraft() error = %v", err)
	}
	if draft.Payment.Status != models.PaymentStatusFailed {
		t.Errorf("Expected status failed to be persisted, got %s", draft.Payment.Status)
	}

	// A later call with a valid signature for the same gateway order stays rejected.
	if _, err := env.payments.VerifyPayment(ctx, verifyRequest(gwID, "pay_1")); !errors.Is(err, errors.ErrAuthenticationFailed) {
		t.Fatalf("Expected replay to be rejected, got %v", err)
	}

	if got := env.stock(t, "A"); got != 10 {
		t.Errorf("Expected stock of A untouched, got %d", got)
	}
	if got := env.stock(t, "B"); got != 10 {
		t.Errorf("Expected stock of B untouched, got %d", got)
	}
	env.payments.WaitForNotifications()
	if got := env.notifier.count(); got != 0 {
		t.Errorf("Expected no notification, got %d", got)
	}
}

func TestVerifyPayment_InsufficientStockAbortsEverything(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 0)
	ctx := context.Background()

	gwID := env.initiate(t, "user_1", basket(), "250", "0")

	_, err := env.payments.VerifyPayment(ctx, verifyRequest(gwID, "pay_1"))
	var stockErr *errors.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != "B" || stockErr.Available != 0 {
		t.Errorf("Expected shortfall on B with 0 available, got %+v", stockErr)
	}

	if got := env.stock(t, "A"); got != 10 {
		t.Errorf("Expected stock of A untouched, got %d", got)
	}

	draft, err := env.drafts.GetDraft(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetDraft() error = %v", err)
	}
	if draft.Payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment to stay pending, got %s", draft.Payment.Status)
	}
}

func TestVerifyPayment_MissingProductIsInsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProduct(&models.Product{ID: "A", Quantity: 10})

	gwID := env.initiate(t, "user_1", basket(), "250", "0")

	_, err := env.payments.VerifyPayment(context.Background(), verifyRequest(gwID, "pay_1"))
	if !errors.IsInsufficientStock(err) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
}

func TestVerifyPayment_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)
	ctx := context.Background()

	gwID := env.initiate(t, "user_1", basket(), "250", "0")
	req := verifyRequest(gwID, "pay_1")

	first, err := env.payments.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	second, err := env.payments.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("second VerifyPayment() error = %v", err)
	}
	env.payments.WaitForNotifications()

	if second.ID != first.ID || second.Payment.Status != models.PaymentStatusSuccessful {
		t.Errorf("Expected the confirmed order back, got %+v", second)
	}
	if got := env.stock(t, "A"); got != 8 {
		t.Errorf("Expected stock of A decremented once, got %d", got)
	}
	if got := env.notifier.count(); got != 1 {
		t.Errorf("Expected one notification, got %d", got)
	}
}

func TestVerifyPayment_ConcurrentCallsDecrementOnce(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)
	ctx := context.Background()

	gwID := env.initiate(t, "user_1", basket(), "250", "0")
	req := verifyRequest(gwID, "pay_1")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.payments.VerifyPayment(ctx, req)
		}(i)
	}
	wg.Wait()
	env.payments.WaitForNotifications()

	for i, err := range errs {
		if err != nil {
			t.Errorf("VerifyPayment() #%d error = %v", i, err)
		}
	}
	if got := env.stock(t, "A"); got != 8 {
		t.Errorf("Expected stock of A decremented once, got %d", got)
	}
	if got := env.stock(t, "B"); got != 9 {
		t.Errorf("Expected stock of B decremented once, got %d", got)
	}
	if got := env.notifier.count(); got != 1 {
		t.Errorf("Expected one notification, got %d", got)
	}
}

func TestVerifyPayment_UnknownGatewayOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payments.VerifyPayment(context.Background(), verifyRequest("order_missing", "pay_1"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestVerifyPayment_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payments.VerifyPayment(context.Background(), &models.VerifyPaymentRequest{GatewayOrderID: "order_1"})
	if !errors.IsValidation(err) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestVerifyPayment_NotifierFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)
	env.notifier.err = errors.New("smtp down")

	gwID := env.initiate(t, "user_1", basket(), "250", "0")

	order, err := env.payments.VerifyPayment(context.Background(), verifyRequest(gwID, "pay_1"))
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	env.payments.WaitForNotifications()

	if order.Payment.Status != models.PaymentStatusSuccessful {
		t.Errorf("Expected status successful, got %s", order.Payment.Status)
	}
	if got := env.stock(t, "A"); got != 8 {
		t.Errorf("Expected stock of A to be 8, got %d", got)
	}
}

type failingUpdateStore struct {
	*repository.MemoryStore
}

func (s failingUpdateStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.MemoryStore.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, failingUpdateTx{tx})
	})
}

type failingUpdateTx struct {
	repository.Tx
}

func (failingUpdateTx) UpdatePayment(context.Context, *models.Order) error {
	return errors.New("write failed")
}

func TestVerifyPayment_WriteFailureRollsBackStock(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)

	gwID := env.initiate(t, "user_1", basket(), "250", "0")

	payments := NewPaymentService(failingUpdateStore{env.store}, env.gateway, env.member, env.notifier, nil, env.cfg, nil, env.payments.logger)
	if _, err := payments.VerifyPayment(context.Background(), verifyRequest(gwID, "pay_1")); err == nil {
		t.Fatal("Expected an error")
	}

	if got := env.stock(t, "A"); got != 10 {
		t.Errorf("Expected stock of A restored, got %d", got)
	}
	if got := env.stock(t, "B"); got != 10 {
		t.Errorf("Expected stock of B restored, got %d", got)
	}
}

func TestInitiatePayment_AmountMatchesFinalTotal(t *testing.T) {
	tests := []struct {
		name     string
		member   bool
		items    string
		shipping string
		amount   int64
		discount string
	}{
		{"non member", false, "250", "50", 30000, "0"},
		{"member", true, "250", "50", 27000, "30"},
		{"member with fractional total", true, "100.05", "0", 9005, "10.005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.member.members["user_1"] = tt.member

			resp, err := env.payments.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
				UserID:          "user_1",
				ItemsPrice:      dec(tt.items),
				ShippingPrice:   dec(tt.shipping),
				Items:           basket(),
				ShippingAddress: testAddress(),
			})
			if err != nil {
				t.Fatalf("InitiatePayment() error = %v", err)
			}

			if resp.AmountMinorUnits != tt.amount {
				t.Errorf("Expected amount %d, got %d", tt.amount, resp.AmountMinorUnits)
			}
			if env.gateway.calls[0] != tt.amount {
				t.Errorf("Expected gateway to be charged %d, got %d", tt.amount, env.gateway.calls[0])
			}
			if resp.Currency != "INR" {
				t.Errorf("Expected currency INR, got %s", resp.Currency)
			}

			draft, err := env.drafts.GetDraft(context.Background(), "user_1")
			if err != nil {
				t.Fatalf("GetDraft() error = %v", err)
			}
			if draft.Payment.GatewayOrderID != resp.GatewayOrderID || draft.Payment.Status != models.PaymentStatusPending {
				t.Errorf("Expected pending payment %s, got %+v", resp.GatewayOrderID, draft.Payment)
			}
			if !draft.MembershipDiscount.Equal(decimal.RequireFromString(tt.discount)) {
				t.Errorf("Expected discount %s, got %s", tt.discount, draft.MembershipDiscount)
			}
			if ToMinorUnits(draft.TotalPrice) != resp.AmountMinorUnits {
				t.Errorf("Stored total %s does not match charged amount %d", draft.TotalPrice, resp.AmountMinorUnits)
			}
			if draft.ShippingAddress.Country != "India" {
				t.Errorf("Expected default country India, got %s", draft.ShippingAddress.Country)
			}
		})
	}
}

func TestInitiatePayment_GatewayErrorLeavesDraftUntouched(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rejected", &errors.GatewayError{StatusCode: 400, Code: "BAD_REQUEST_ERROR", Description: "amount too low"}},
		{"timeout", errors.ErrGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			staged, err := env.drafts.StageDraft(ctx, &models.StageDraftRequest{
				UserID:     "user_1",
				Items:      basket(),
				ItemsPrice: dec("250"),
			})
			if err != nil {
				t.Fatalf("StageDraft() error = %v", err)
			}

			env.gateway.err = tt.err
			_, err = env.payments.InitiatePayment(ctx, &models.InitiatePaymentRequest{
				UserID:          "user_1",
				ItemsPrice:      dec("999"),
				ShippingPrice:   dec("0"),
				Items:           basket(),
				ShippingAddress: testAddress(),
			})
			if !errors.IsGateway(err) {
				t.Fatalf("Expected gateway error, got %v", err)
			}

			draft, err := env.drafts.GetDraft(ctx, "user_1")
			if err != nil {
				t.Fatalf("GetDraft() error = %v", err)
			}
			if !draft.TotalPrice.Equal(staged.Order.TotalPrice) {
				t.Errorf("Expected total %s to be kept, got %s", staged.Order.TotalPrice, draft.TotalPrice)
			}
			if draft.Payment.Status != models.PaymentStatusNone {
				t.Errorf("Expected no payment record, got %s", draft.Payment.Status)
			}
		})
	}
}

func TestInitiatePayment_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   *models.InitiatePaymentRequest
		field string
	}{
		{"missing user", &models.InitiatePaymentRequest{ItemsPrice: dec("10"), ShippingPrice: dec("0"), Items: basket(), ShippingAddress: testAddress()}, "user"},
		{"missing shipping price", &models.InitiatePaymentRequest{UserID: "u", ItemsPrice: dec("10"), Items: basket(), ShippingAddress: testAddress()}, "shipping_price"},
		{"missing items price", &models.InitiatePaymentRequest{UserID: "u", ShippingPrice: dec("0"), Items: basket(), ShippingAddress: testAddress()}, "items_price"},
		{"empty items", &models.InitiatePaymentRequest{UserID: "u", ItemsPrice: dec("10"), ShippingPrice: dec("0"), ShippingAddress: testAddress()}, "items"},
		{"missing address", &models.InitiatePaymentRequest{UserID: "u", ItemsPrice: dec("10"), ShippingPrice: dec("0"), Items: basket()}, "shipping_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.payments.InitiatePayment(context.Background(), tt.req)
			var vErr *errors.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, vErr.Field)
			}
			if len(env.gateway.calls) != 0 {
				t.Error("Expected the gateway not to be called")
			}
		})
	}
}

func TestInitiatePayment_MembershipLookupFailure(t *testing.T) {
	env := newTestEnv(t)
	env.member.err = errors.New("membership service unavailable")

	_, err := env.payments.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
		UserID:          "user_1",
		ItemsPrice:      dec("250"),
		ShippingPrice:   dec("0"),
		Items:           basket(),
		ShippingAddress: testAddress(),
	})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if len(env.gateway.calls) != 0 {
		t.Error("Expected the gateway not to be called")
	}
}

func TestInitiatePayment_RetryAfterFailedSignature(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 10, 10)
	ctx := context.Background()

	first := env.initiate(t, "user_1", basket(), "250", "0")
	bad := verifyRequest(first, "pay_1")
	bad.Signature = "00"
	_, _ = env.payments.VerifyPayment(ctx, bad)

	second := env.initiate(t, "user_1", basket(), "250", "0")
	if second == first {
		t.Fatal("Expected a fresh gateway order")
	}

	order, err := env.payments.VerifyPayment(ctx, verifyRequest(second, "pay_2"))
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	if order.Payment.GatewayPaymentID != "pay_2" {
		t.Errorf("Expected pay_2, got %s", order.Payment.GatewayPaymentID)
	}

	if _, err := env.payments.VerifyPayment(ctx, verifyRequest(first, "pay_1")); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected the abandoned gateway order to be unknown, got %v", err)
	}
}

func TestVerifyPayment_RestageInvalidatesPendingPayment(t *testing.T) {
	env := newTestEnv(t)
	seedStock(env, 100, 10)
	env.member.members["user_1"] = true
	ctx := context.Background()

	small := []models.OrderItem{{ProductID: "A", Name: "Mug", Price: decimal.NewFromInt(100), Quantity: 1}}
	gwID := env.initiate(t, "user_1", small, "100", "0")
	if got := env.gateway.calls[0]; got != 9000 {
		t.Fatalf("Expected 9000 charged, got %d", got)
	}

	large := []models.OrderItem{{ProductID: "A", Name: "Mug", Price: decimal.NewFromInt(100), Quantity: 50}}
	resp, err := env.drafts.StageDraft(ctx, &models.StageDraftRequest{
		UserID:     "user_1",
		Items:      large,
		ItemsPrice: dec("5000"),
	})
	if err != nil {
		t.Fatalf("StageDraft() error = %v", err)
	}
	if resp.Order.Payment.Status != models.PaymentStatusNone {
		t.Errorf("Expected restage to drop the pending payment, got %s", resp.Order.Payment.Status)
	}

	if _, err := env.payments.VerifyPayment(ctx, verifyRequest(gwID, "pay_1")); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for the superseded gateway order, got %v", err)
	}
	if got := env.stock(t, "A"); got != 100 {
		t.Errorf("Expected stock of A untouched, got %d", got)
	}

	draft, err := env.drafts.GetDraft(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetDraft() error = %v", err)
	}
	if !draft.IsDraft {
		t.Error("Expected the order to stay a draft")
	}

	newID := env.initiate(t, "user_1", large, "5000", "0")
	order, err := env.payments.VerifyPayment(ctx, verifyRequest(newID, "pay_2"))
	if err != nil {
		t.Fatalf("VerifyPayment() error = %v", err)
	}
	env.payments.WaitForNotifications()

	if got, want := ToMinorUnits(order.TotalPrice), env.gateway.calls[1]; got != want {
		t.Errorf("Confirmed total = %d minor units, charged %d", got, want)
	}
	if got := env.stock(t, "A"); got != 50 {
		t.Errorf("Expected stock of A 50, got %d", got)
	}
}
