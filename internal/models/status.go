package models

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusCancelled = "cancelled"
)

// Payment methods
const (
	PaymentMethodCreditCard     = "credit_card"
	PaymentMethodDebitCard      = "debit_card"
	PaymentMethodPaypal         = "paypal"
	PaymentMethodBankTransfer   = "bank_transfer"
	PaymentMethodCashOnDelivery = "cash_on_delivery"
)

// orderTransitions is the full set of legal order status transitions. The
// status axis moves monotonically forward through fulfilment; cancellation is
// only reachable from pending and confirmed.
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

var paymentTransitions = map[string][]string{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransitionOrder reports whether an order may move from one status to
// another.
func CanTransitionOrder(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether a payment status change is legal.
func CanTransitionPayment(from, to string) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidPaymentMethod reports whether m is a supported payment method.
func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPaypal,
		PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// OrderCancellable reports whether an order in the given status may be
// cancelled by its owner.
func OrderCancellable(status string) bool {
	return status == OrderStatusPending || status == OrderStatusConfirmed
}
