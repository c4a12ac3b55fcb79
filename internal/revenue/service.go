package revenue

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

// Service looks commission rules up and splits orders with them.
type Service interface {
	Quote(ctx context.Context, input QuoteInput) (Result, error)
	UpsertRule(ctx context.Context, input RuleInput) (*models.CommissionRule, error)
	ListRules(ctx context.Context) ([]models.CommissionRule, error)
}

// QuoteInput carries the order fields the split depends on.
type QuoteInput struct {
	Total       decimal.Decimal
	DeliveryFee decimal.Decimal
	Category    string
	Reseller    bool
}

// RuleInput is an admin change to one category's rate.
type RuleInput struct {
	Category string
	Rate     decimal.Decimal
	Active   bool
}

type service struct {
	rules RuleRepository
	calc  Calculator
}

// NewService wires the revenue service.
func NewService(rules RuleRepository, calc Calculator) (Service, error) {
	if rules == nil {
		return nil, fmt.Errorf("commission rule repository required")
	}
	return &service{rules: rules, calc: NewCalculator(calc.DefaultRate, calc.ResellerRate)}, nil
}

func (s *service) Quote(ctx context.Context, input QuoteInput) (Result, error) {
	var rules []Rule
	if !input.Reseller {
		rows, err := s.rules.ActiveRules(ctx)
		if err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rules")
		}
		rules = ToRules(rows)
	}
	return s.calc.Split(input.Total, input.DeliveryFee, input.Category, rules, input.Reseller)
}

func (s *service) UpsertRule(ctx context.Context, input RuleInput) (*models.CommissionRule, error) {
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category required")
	}
	if input.Rate.IsNegative() || input.Rate.GreaterThan(hundred) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must be between 0 and 100")
	}
	rule := &models.CommissionRule{
		Category: category,
		Rate:     input.Rate.Round(2),
		Active:   input.Active,
	}
	if err := s.rules.Upsert(ctx, rule); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert commission rule")
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context) ([]models.CommissionRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission rules")
	}
	return rules, nil
}

// ToRules maps stored rules onto calculator rules.
func ToRules(rows []models.CommissionRule) []Rule {
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, Rule{Category: row.Category, Rate: row.Rate, Active: row.Active})
	}
	return rules
}
