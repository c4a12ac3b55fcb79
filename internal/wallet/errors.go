package wallet

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

func accountNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeAccountNotFound, "account not found").
		WithDetails(map[string]any{"account_id": id})
}

func insufficientBalance(id uuid.UUID, balance, amount decimal.Decimal) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
		WithDetails(map[string]any{
			"account_id": id,
			"balance":    balance.StringFixed(2),
			"requested":  amount.StringFixed(2),
		})
}

func invalidAmount() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
}
