package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

// Repository reads payout state. Writes go through wallet postings.
type Repository interface {
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	OpenWithdrawal(ctx context.Context, accountID uuid.UUID) (*models.WalletTransaction, error)
	ListPending(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.WalletTransaction, *pagination.Cursor, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.WalletTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payouts repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// OpenWithdrawal returns the account's pending withdrawal or nil.
func (r *repository) OpenWithdrawal(ctx context.Context, accountID uuid.UUID) (*models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND type = ? AND status = ?", accountID, enums.TransactionTypeWithdrawal, enums.TransactionStatusPending).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListPending pages through withdrawals awaiting an admin, oldest first.
func (r *repository) ListPending(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.WalletTransaction, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("type = ? AND status = ?", enums.TransactionTypeWithdrawal, enums.TransactionStatusPending)
	if cursor != nil {
		query = query.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.WalletTransaction
	if err := query.Order("created_at ASC, id ASC").Limit(normalized + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, normalized, func(row models.WalletTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return page, next, nil
}

// ListDue returns held credits whose settle_at has passed. Withdrawals are
// excluded: they only complete through admin approval.
func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND type <> ? AND settle_at IS NOT NULL AND settle_at <= ?",
			enums.TransactionStatusPending, enums.TransactionTypeWithdrawal, now.UTC()).
		Order("settle_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
