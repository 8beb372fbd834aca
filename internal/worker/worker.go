package worker

import (
	"context"
	"log"
	"time"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/service"
)

// PaymentWorker drives the deferred payment confirmation: it consumes
// OrderPlaced events, waits the configured gateway delay, then settles the
// payment. The broker redelivers on failure and confirmation is idempotent,
// so the task is safe to run more than once.
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     *service.PaymentService
	confirmDelay time.Duration
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(
	consumer *broker.Consumer,
	payments *service.PaymentService,
	confirmDelay time.Duration,
) *PaymentWorker {
	w := &PaymentWorker{
		consumer:     consumer,
		payments:     payments,
		confirmDelay: confirmDelay,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	log.Println("Starting payment worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	log.Println("Stopping payment worker...")
	return w.consumer.Close()
}

func (w *PaymentWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	// Simulated gateway settlement window.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.confirmDelay):
	}

	return w.payments.ConfirmPayment(ctx, event)
}
