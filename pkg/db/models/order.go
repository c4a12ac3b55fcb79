package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/marketledger-backend/pkg/db/types"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

// Order is a delivery, ride or pickup purchase moving through its status table.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Kind              enums.OrderKind     `gorm:"column:kind;type:order_kind;not null"`
	CustomerID        uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	VendorID          *uuid.UUID          `gorm:"column:vendor_id;type:uuid;index"`
	AssignedCourierID *uuid.UUID          `gorm:"column:assigned_courier_id;type:uuid;index"`
	SelfDelivered     bool                `gorm:"column:self_delivered;not null;default:false"`
	Category          string              `gorm:"column:category;not null;default:''"`
	Reseller          bool                `gorm:"column:reseller;not null;default:false"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Total             decimal.Decimal     `gorm:"column:total;type:numeric(14,2);not null"`
	DeliveryFee       decimal.Decimal     `gorm:"column:delivery_fee;type:numeric(14,2);not null;default:0"`
	Status            enums.OrderStatus   `gorm:"column:status;type:order_status;not null;index"`
	PickupCode        *string             `gorm:"column:pickup_code;type:varchar(4)"`
	DeliveryCode      *string             `gorm:"column:delivery_code;type:varchar(4)"`
	CandidatePool     dbtypes.UUIDArray   `gorm:"column:candidate_pool;type:text"`
	PickupLat         float64             `gorm:"column:pickup_lat;not null;default:0"`
	PickupLng         float64             `gorm:"column:pickup_lng;not null;default:0"`
	DropoffLat        float64             `gorm:"column:dropoff_lat;not null;default:0"`
	DropoffLng        float64             `gorm:"column:dropoff_lng;not null;default:0"`
	DistanceKm        float64             `gorm:"column:distance_km;not null;default:0"`
	EtaMinutes        int                 `gorm:"column:eta_minutes;not null;default:0"`
	Version           int64               `gorm:"column:version;not null;default:0"`
	History           []OrderStatusEvent  `gorm:"foreignKey:OrderID"`
	Requests          []DeliveryRequest   `gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderStatusEvent is one append-only entry of an order's status history.
type OrderStatusEvent struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:order_status"`
	Status     enums.OrderStatus  `gorm:"column:status;type:order_status;not null"`
	ActorID    *uuid.UUID         `gorm:"column:actor_id;type:uuid"`
	ActorRole  string             `gorm:"column:actor_role;not null;default:''"`
	Note       *string            `gorm:"column:note"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusEvent) TableName() string {
	return "order_status_history"
}

func (e *OrderStatusEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// DeliveryRequest is a courier's slot in an order's broadcast.
type DeliveryRequest struct {
	ID          uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID                   `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_delivery_requests_order_courier,priority:1"`
	CourierID   uuid.UUID                   `gorm:"column:courier_id;type:uuid;not null;uniqueIndex:ux_delivery_requests_order_courier,priority:2;index"`
	Status      enums.DeliveryRequestStatus `gorm:"column:status;type:delivery_request_status;not null"`
	DistanceKm  *float64                    `gorm:"column:distance_km"`
	ExpiresAt   *time.Time                  `gorm:"column:expires_at"`
	RespondedAt *time.Time                  `gorm:"column:responded_at"`
	CreatedAt   time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *DeliveryRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// OrderSettlement guards settlement and refund so each happens once per order.
type OrderSettlement struct {
	OrderID      uuid.UUID       `gorm:"column:order_id;type:uuid;primaryKey"`
	ProductTotal decimal.Decimal `gorm:"column:product_total;type:numeric(14,2);not null"`
	VendorAmount decimal.Decimal `gorm:"column:vendor_amount;type:numeric(14,2);not null"`
	PlatformFee  decimal.Decimal `gorm:"column:platform_fee;type:numeric(14,2);not null"`
	DeliveryFee  decimal.Decimal `gorm:"column:delivery_fee;type:numeric(14,2);not null"`
	RateApplied  decimal.Decimal `gorm:"column:rate_applied;type:numeric(5,2);not null"`
	PayeeID      uuid.UUID       `gorm:"column:payee_id;type:uuid;not null"`
	CourierID    *uuid.UUID      `gorm:"column:courier_id;type:uuid"`
	SettledAt    time.Time       `gorm:"column:settled_at;not null"`
	ReversedAt   *time.Time      `gorm:"column:reversed_at"`
}
