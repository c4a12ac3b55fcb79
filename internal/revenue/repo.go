package revenue

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
)

// RuleRepository persists commission rules.
type RuleRepository interface {
	WithTx(tx *gorm.DB) RuleRepository
	ActiveRules(ctx context.Context) ([]models.CommissionRule, error)
	List(ctx context.Context) ([]models.CommissionRule, error)
	Upsert(ctx context.Context, rule *models.CommissionRule) error
}

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository binds the repository to db.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) WithTx(tx *gorm.DB) RuleRepository {
	if tx == nil {
		return r
	}
	return &ruleRepository{db: tx}
}

func (r *ruleRepository) ActiveRules(ctx context.Context) ([]models.CommissionRule, error) {
	var rules []models.CommissionRule
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("category ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) List(ctx context.Context) ([]models.CommissionRule, error) {
	var rules []models.CommissionRule
	if err := r.db.WithContext(ctx).Order("category ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// Upsert inserts the rule or updates rate and active flag of the existing
// rule for the same category.
func (r *ruleRepository) Upsert(ctx context.Context, rule *models.CommissionRule) error {
	rule.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "active", "updated_at"}),
		}).
		Create(rule).Error
	if err != nil {
		return err
	}
	// on conflict the stored row keeps its own id, so rule.ID matches nothing
	var stored models.CommissionRule
	if err := r.db.WithContext(ctx).Where("category = ?", rule.Category).First(&stored).Error; err != nil {
		return err
	}
	*rule = stored
	return nil
}
