package payloads

import "time"

// SlotSoldEvent is emitted when a slot is finalized to an order.
type SlotSoldEvent struct {
	Number         string    `json:"number"`
	OrderRef       string    `json:"order_ref"`
	OwnerRef       string    `json:"owner_ref"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	SoldAt         time.Time `json:"sold_at"`
}

// SlotReleasedEvent is emitted when an operator returns a held or sold slot
// to the available pool.
type SlotReleasedEvent struct {
	Number           string    `json:"number"`
	PreviousStatus   string    `json:"previous_status"`
	PreviousOrderRef string    `json:"previous_order_ref,omitempty"`
	Reason           string    `json:"reason"`
	ReleasedAt       time.Time `json:"released_at"`
}
