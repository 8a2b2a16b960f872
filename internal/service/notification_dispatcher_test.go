package service

import (
	"context"
	"sync"
	"testing"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

type recordingSender struct {
	mu       sync.Mutex
	emails   []string
	messages []string
	emailErr error
}

func (s *recordingSender) SendEmail(ctx context.Context, to, subject string, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = append(s.emails, to)
	return s.emailErr
}

func (s *recordingSender) SendMessage(ctx context.Context, to string, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, to)
	return nil
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) PublishOrderConfirmed(ctx context.Context, order *models.Order) error {
	p.published = append(p.published, order.ID)
	return nil
}

func TestNotificationDispatcher_FansOut(t *testing.T) {
	sender := &recordingSender{}
	publisher := &recordingPublisher{}
	d := NewNotificationDispatcher(sender, publisher, config.NotificationConfig{
		OwnerEmail: "owner@example.com",
		OwnerPhone: "+919811111111",
	}, nil, logging.NewNop())

	order := &models.Order{ID: "ord_1", ShippingAddress: testAddress()}
	if err := d.Notify(context.Background(), order); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(sender.emails) != 2 || sender.emails[0] != "asha@example.com" || sender.emails[1] != "owner@example.com" {
		t.Errorf("Expected customer and owner emails, got %v", sender.emails)
	}
	if len(sender.messages) != 1 {
		t.Errorf("Expected one owner message, got %v", sender.messages)
	}
	if len(publisher.published) != 1 || publisher.published[0] != "ord_1" {
		t.Errorf("Expected order event for ord_1, got %v", publisher.published)
	}
}

func TestNotificationDispatcher_ContinuesAfterFailure(t *testing.T) {
	sender := &recordingSender{emailErr: errors.New("smtp down")}
	publisher := &recordingPublisher{}
	d := NewNotificationDispatcher(sender, publisher, config.NotificationConfig{
		OwnerPhone: "+919811111111",
	}, nil, logging.NewNop())

	err := d.Notify(context.Background(), &models.Order{ID: "ord_1", ShippingAddress: testAddress()})
	if err == nil {
		t.Fatal("Expected the email failure to be reported")
	}
	if len(sender.messages) != 1 {
		t.Error("Expected the owner message to be sent anyway")
	}
	if len(publisher.published) != 1 {
		t.Error("Expected the order event to be published anyway")
	}
}

func TestNotificationDispatcher_NoChannels(t *testing.T) {
	d := NewNotificationDispatcher(nil, nil, config.NotificationConfig{}, nil, logging.NewNop())
	if err := d.Notify(context.Background(), &models.Order{ID: "ord_1"}); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
