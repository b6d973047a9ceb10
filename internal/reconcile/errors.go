package reconcile

import "fmt"

// InsufficientStockError is the only error surfaced to the end user. It
// blocks cart and checkout progress with a rendered storefront message.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
	Message   string
}

func (e *InsufficientStockError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("insufficient stock for product %d, %d available", e.ProductID, e.Available)
}

// OrderCancelledError propagates when the final post-payment re-check loses a
// race to another buyer. The host cancels the order with the carried reason.
type OrderCancelledError struct {
	OrderID   string
	ProductID int64
	Reason    string
}

func (e *OrderCancelledError) Error() string {
	return fmt.Sprintf("order %s cancelled: %s", e.OrderID, e.Reason)
}
