package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentStore is the storage surface for deferred payment confirmation.
type PaymentStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	InTx(ctx context.Context, fn func(tx store.OrderTx) error) error
}

// ConfirmLocker serializes confirmation attempts for one order across
// service instances.
type ConfirmLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// ConfirmationPublisher publishes the confirmation outcome.
type ConfirmationPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
}

// PaymentService simulates the payment gateway callback: once the broker
// delivers an OrderPlaced event, it marks the order paid and confirmed.
// Delivery is at-least-once, so confirmation is idempotent by construction.
type PaymentService struct {
	store     PaymentStore
	locker    ConfirmLocker
	publisher ConfirmationPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(store PaymentStore, locker ConfirmLocker, publisher ConfirmationPublisher, lockTTL time.Duration) *PaymentService {
	return &PaymentService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		lockTTL:   lockTTL,
		logger:    util.GetLogger(),
	}
}

// ConfirmPayment settles the payment for a placed order. The guarded status
// update only fires while the order is still pending, so re-delivered events
// and concurrent workers are harmless; a cancelled order stays cancelled.
func (s *PaymentService) ConfirmPayment(ctx context.Context, event *models.OrderPlacedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentConfirmLatency.Observe(time.Since(start).Seconds())
	}()

	processed, err := s.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	lockKey := fmt.Sprintf("order-confirm:%d", event.OrderID)
	locked, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire confirmation lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("confirmation for order %d already in flight", event.OrderID)
	}
	defer func() {
		if err := s.locker.ReleaseLock(ctx, lockKey); err != nil {
			s.logger.Warn("Failed to release confirmation lock", zap.Error(err))
		}
	}()

	var order *models.Order
	confirmed := false
	err = s.store.InTx(ctx, func(tx store.OrderTx) error {
		var err error
		order, err = tx.OrderForUpdate(ctx, event.OrderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending ||
			!models.CanTransitionPayment(order.PaymentStatus, models.PaymentStatusPaid) {
			// Already confirmed or cancelled; nothing to settle.
			return nil
		}

		order.Status = models.OrderStatusConfirmed
		order.PaymentStatus = models.PaymentStatusPaid
		order.TrackingNumber = newTrackingNumber()
		confirmed = true
		return tx.SetOrderStatus(ctx, order)
	})
	if err != nil {
		return err
	}

	if err := s.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		s.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	if !confirmed {
		return nil
	}

	util.PaymentsConfirmedTotal.Inc()
	s.logger.Info("Payment confirmed",
		zap.Int64("order_id", order.ID),
		zap.String("tracking_number", order.TrackingNumber))

	confirmedEvent := &models.OrderConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderConfirmed,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		UserID:         order.UserID,
		TrackingNumber: order.TrackingNumber,
	}
	if err := s.publisher.PublishOrderConfirmed(ctx, confirmedEvent); err != nil {
		s.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
	}

	return nil
}

func newTrackingNumber() string {
	return fmt.Sprintf("TRK-%s", strings.ToUpper(uuid.New().String()[:8]))
}
