package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

// Repository persists accounts, platform shards and wallet transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	CreateAccountIfMissing(ctx context.Context, account *models.Account) (bool, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	IncrementShard(ctx context.Context, shardID int, amount decimal.Decimal) error
	ListShards(ctx context.Context) ([]models.PlatformShard, error)
	InsertTransaction(ctx context.Context, row *models.WalletTransaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error)
	TransitionTransaction(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, settledAt *time.Time) (bool, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.WalletTransaction, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreateAccountIfMissing(ctx context.Context, account *models.Account) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(account)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveAccount writes balance and flags only if nobody bumped the version
// since the account was read. A miss returns db.ErrConflict.
func (r *repository) SaveAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]any{
			"balance":        account.Balance,
			"payout_pending": account.PayoutPending,
			"reseller":       account.Reseller,
			"version":        account.Version + 1,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dbpkg.ErrConflict
	}
	account.Version++
	account.UpdatedAt = now
	return nil
}

// IncrementShard adds amount to one shard in place. Missing shards are created
// on first use so the shard count can grow through configuration.
func (r *repository) IncrementShard(ctx context.Context, shardID int, amount decimal.Decimal) error {
	increment := func() (int64, error) {
		res := r.db.WithContext(ctx).
			Model(&models.PlatformShard{}).
			Where("id = ?", shardID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": time.Now().UTC(),
			})
		return res.RowsAffected, res.Error
	}

	affected, err := increment()
	if err != nil || affected > 0 {
		return err
	}
	shard := models.PlatformShard{ID: shardID, Balance: decimal.Zero}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&shard).Error; err != nil {
		return err
	}
	affected, err = increment()
	if err != nil {
		return err
	}
	if affected == 0 {
		return dbpkg.ErrConflict
	}
	return nil
}

func (r *repository) ListShards(ctx context.Context) ([]models.PlatformShard, error) {
	var shards []models.PlatformShard
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&shards).Error; err != nil {
		return nil, err
	}
	return shards, nil
}

func (r *repository) InsertTransaction(ctx context.Context, row *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	var row models.WalletTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// TransitionTransaction moves a row between statuses and reports whether this
// caller won the row. The status predicate makes concurrent claims exclusive.
func (r *repository) TransitionTransaction(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, settledAt *time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if settledAt != nil {
		updates["settled_at"] = settledAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.WalletTransaction, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("account_id = ?", accountID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.WalletTransaction
	if err := query.Order("created_at DESC, id DESC").Limit(normalized + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, normalized, func(row models.WalletTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return page, next, nil
}
