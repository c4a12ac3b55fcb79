package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

// Repository reads and guards settlement state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindSettlement(ctx context.Context, orderID uuid.UUID) (*models.OrderSettlement, error)
	InsertSettlement(ctx context.Context, row *models.OrderSettlement) error
	MarkReversed(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	HasTransaction(ctx context.Context, orderID, accountID uuid.UUID, txType enums.TransactionType) (bool, error)
	PendingEarnings(ctx context.Context, orderID, accountID uuid.UUID, txType enums.TransactionType) ([]models.WalletTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to db.
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

func (r *repository) FindSettlement(ctx context.Context, orderID uuid.UUID) (*models.OrderSettlement, error) {
	var row models.OrderSettlement
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) InsertSettlement(ctx context.Context, row *models.OrderSettlement) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) MarkReversed(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderSettlement{}).
		Where("order_id = ? AND reversed_at IS NULL", orderID).
		Update("reversed_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) HasTransaction(ctx context.Context, orderID, accountID uuid.UUID, txType enums.TransactionType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("order_id = ? AND account_id = ? AND type = ?", orderID, accountID, txType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) PendingEarnings(ctx context.Context, orderID, accountID uuid.UUID, txType enums.TransactionType) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND account_id = ? AND type = ? AND status = ?",
			orderID, accountID, txType, enums.TransactionStatusPending).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
