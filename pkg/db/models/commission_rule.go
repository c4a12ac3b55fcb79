package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionRule sets the platform percentage for one product category.
type CommissionRule struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Category  string          `gorm:"column:category;not null;uniqueIndex:ux_commission_rules_category"`
	Rate      decimal.Decimal `gorm:"column:rate;type:numeric(5,2);not null"`
	Active    bool            `gorm:"column:active;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *CommissionRule) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
