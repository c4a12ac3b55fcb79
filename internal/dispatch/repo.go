package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

// Offer is a pending request as a courier sees it.
type Offer struct {
	RequestID   uuid.UUID         `json:"request_id"`
	OrderID     uuid.UUID         `json:"order_id"`
	Kind        enums.OrderKind   `json:"kind"`
	DeliveryFee decimal.Decimal   `json:"delivery_fee"`
	Total       decimal.Decimal   `json:"total"`
	DistanceKm  *float64          `json:"distance_km,omitempty"`
	PickupLat   float64           `json:"pickup_lat"`
	PickupLng   float64           `json:"pickup_lng"`
	DropoffLat  float64           `json:"dropoff_lat"`
	DropoffLng  float64           `json:"dropoff_lng"`
	Status      enums.OrderStatus `json:"order_status"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Repository persists delivery requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindRequest(ctx context.Context, orderID, courierID uuid.UUID) (*models.DeliveryRequest, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.DeliveryRequest, error)
	Upsert(ctx context.Context, req *models.DeliveryRequest) error
	MarkAccepted(ctx context.Context, orderID, courierID uuid.UUID, at time.Time) (bool, error)
	ExpireOthers(ctx context.Context, orderID, winnerID uuid.UUID, at time.Time) (int64, error)
	MarkRejected(ctx context.Context, orderID, courierID uuid.UUID, at time.Time) (bool, error)
	ListOffers(ctx context.Context, courierID uuid.UUID, now time.Time) ([]Offer, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a dispatch repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindRequest(ctx context.Context, orderID, courierID uuid.UUID) (*models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND courier_id = ?", orderID, courierID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.DeliveryRequest, error) {
	var rows []models.DeliveryRequest
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Upsert writes the courier's slot for the order, resetting an earlier
// rejected or expired slot to the new status.
func (r *repository) Upsert(ctx context.Context, req *models.DeliveryRequest) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "courier_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "distance_km", "expires_at", "responded_at", "updated_at"}),
		}).
		Create(req).Error
}

func (r *repository) MarkAccepted(ctx context.Context, orderID, courierID uuid.UUID, at time.Time) (bool, error) {
	return r.flip(ctx, orderID, courierID, enums.DeliveryRequestAccepted, at)
}

func (r *repository) MarkRejected(ctx context.Context, orderID, courierID uuid.UUID, at time.Time) (bool, error) {
	return r.flip(ctx, orderID, courierID, enums.DeliveryRequestRejected, at)
}

func (r *repository) flip(ctx context.Context, orderID, courierID uuid.UUID, to enums.DeliveryRequestStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryRequest{}).
		Where("order_id = ? AND courier_id = ? AND status = ?", orderID, courierID, enums.DeliveryRequestPending).
		Updates(map[string]any{
			"status":       to,
			"responded_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ExpireOthers closes every other pending slot of the order.
func (r *repository) ExpireOthers(ctx context.Context, orderID, winnerID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryRequest{}).
		Where("order_id = ? AND courier_id <> ? AND status = ?", orderID, winnerID, enums.DeliveryRequestPending).
		Updates(map[string]any{
			"status":     enums.DeliveryRequestExpired,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

// ListOffers returns the courier's pending slots on still unassigned orders,
// skipping slots past their advisory expiry.
func (r *repository) ListOffers(ctx context.Context, courierID uuid.UUID, now time.Time) ([]Offer, error) {
	var offers []Offer
	err := r.db.WithContext(ctx).
		Table("delivery_requests AS dr").
		Select(`dr.id AS request_id, dr.order_id, dr.distance_km, dr.expires_at,
			o.kind, o.delivery_fee, o.total, o.status,
			o.pickup_lat, o.pickup_lng, o.dropoff_lat, o.dropoff_lng`).
		Joins("JOIN orders o ON o.id = dr.order_id").
		Where("dr.courier_id = ? AND dr.status = ?", courierID, enums.DeliveryRequestPending).
		Where("(dr.expires_at IS NULL OR dr.expires_at > ?)", now.UTC()).
		Where("o.assigned_courier_id IS NULL").
		Order("dr.created_at DESC").
		Scan(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}
