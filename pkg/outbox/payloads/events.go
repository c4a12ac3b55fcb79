package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

// OrderPlacedEvent announces a new order and how it will be paid.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	Kind          enums.OrderKind     `json:"kind"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	VendorID      *uuid.UUID          `json:"vendor_id,omitempty"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal     `json:"total"`
	DeliveryFee   decimal.Decimal     `json:"delivery_fee"`
	Status        enums.OrderStatus   `json:"status"`
}

// OrderStatusChangedEvent mirrors one appended status history row.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	Kind       enums.OrderKind   `json:"kind"`
	FromStatus enums.OrderStatus `json:"from_status"`
	Status     enums.OrderStatus `json:"status"`
	ActorID    *uuid.UUID        `json:"actor_id,omitempty"`
	ChangedAt  time.Time         `json:"changed_at"`
}

// DeliveryBroadcastEvent lists the couriers offered an order.
type DeliveryBroadcastEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	CourierIDs []uuid.UUID `json:"courier_ids"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// CourierAssignedEvent is emitted once per order when a courier wins it.
type CourierAssignedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	CourierID     uuid.UUID `json:"courier_id"`
	SelfDelivered bool      `json:"self_delivered"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// OrderSettledEvent records the revenue split applied to a fulfilled order.
type OrderSettledEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	Kind         enums.OrderKind `json:"kind"`
	PayeeID      uuid.UUID       `json:"payee_id"`
	CourierID    *uuid.UUID      `json:"courier_id,omitempty"`
	ProductTotal decimal.Decimal `json:"product_total"`
	VendorAmount decimal.Decimal `json:"vendor_amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	RateApplied  decimal.Decimal `json:"rate_applied"`
	Held         bool            `json:"held"`
	SettledAt    time.Time       `json:"settled_at"`
}

// OrderRefundedEvent covers both cancellation refunds and admin reversals.
type OrderRefundedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reversal   bool            `json:"reversal"`
	RefundedAt time.Time       `json:"refunded_at"`
}

// WalletTransactionRecordedEvent mirrors one wallet_transactions row.
type WalletTransactionRecordedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	AccountID     *uuid.UUID              `json:"account_id,omitempty"`
	ShardID       *int                    `json:"shard_id,omitempty"`
	OrderID       *uuid.UUID              `json:"order_id,omitempty"`
	Type          enums.TransactionType   `json:"type"`
	Status        enums.TransactionStatus `json:"status"`
	Amount        decimal.Decimal         `json:"amount"`
	RecordedAt    time.Time               `json:"recorded_at"`
}

// PayoutRequestedEvent is emitted when an account asks for a withdrawal.
type PayoutRequestedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Destination   string          `json:"destination"`
}

// PayoutDecidedEvent records an admin approval or rejection.
type PayoutDecidedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	AccountID     uuid.UUID               `json:"account_id"`
	Status        enums.TransactionStatus `json:"status"`
	Amount        decimal.Decimal         `json:"amount"`
	DecidedBy     *uuid.UUID              `json:"decided_by,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
}

// NotificationRequestedEvent asks push/email fan-out to alert a user.
type NotificationRequestedEvent struct {
	NotificationID uuid.UUID              `json:"notification_id"`
	UserID         uuid.UUID              `json:"user_id"`
	Type           enums.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Data           map[string]any         `json:"data,omitempty"`
}
