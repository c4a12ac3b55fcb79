package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

// Account is a wallet owned by one customer, vendor or courier identity.
// The ID equals the owning user's ID.
type Account struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Kind          enums.AccountKind `gorm:"column:kind;type:account_kind;not null"`
	Balance       decimal.Decimal   `gorm:"column:balance;type:numeric(14,2);not null;default:0"`
	PayoutPending bool              `gorm:"column:payout_pending;not null;default:false"`
	Reseller      bool              `gorm:"column:reseller;not null;default:false"`
	Version       int64             `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// PlatformShard holds one slice of the platform balance. Shard 0 is the
// root counter; shards 1..N absorb concurrent fee postings.
type PlatformShard struct {
	ID        int             `gorm:"column:id;primaryKey;autoIncrement:false"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null;default:0"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
