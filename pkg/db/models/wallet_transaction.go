package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

// WalletTransaction is one immutable posting against an account or a platform
// shard. Amount is signed: credits are positive, debits negative. Only the
// status and settled_at columns change after insert.
type WalletTransaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   *uuid.UUID              `gorm:"column:account_id;type:uuid;index:ix_wallet_transactions_account_created,priority:1"`
	ShardID     *int                    `gorm:"column:shard_id"`
	Amount      decimal.Decimal         `gorm:"column:amount;type:numeric(14,2);not null"`
	Type        enums.TransactionType   `gorm:"column:type;type:wallet_transaction_type;not null"`
	Status      enums.TransactionStatus `gorm:"column:status;type:wallet_transaction_status;not null"`
	OrderID     *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	Description *string                 `gorm:"column:description"`
	Destination *string                 `gorm:"column:destination"`
	SettleAt    *time.Time              `gorm:"column:settle_at"`
	SettledAt   *time.Time              `gorm:"column:settled_at"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime;index:ix_wallet_transactions_account_created,priority:2"`
}

func (w *WalletTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
