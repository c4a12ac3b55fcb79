package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/api/responses"
	"github.com/angelmondragon/marketledger-backend/api/validators"
	"github.com/angelmondragon/marketledger-backend/internal/payouts"
	"github.com/angelmondragon/marketledger-backend/internal/revenue"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

type platformLedger interface {
	PlatformBalance(ctx context.Context) (decimal.Decimal, error)
	EnsureAccount(ctx context.Context, accountID uuid.UUID, kind enums.AccountKind) error
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta wallet.Meta) (uuid.UUID, error)
}

type resellerFlagger interface {
	SetReseller(ctx context.Context, accountID uuid.UUID, reseller bool) (*wallet.AccountBalance, error)
}

type orderReverser interface {
	Reverse(ctx context.Context, orderID, actorID uuid.UUID) (*models.OrderSettlement, error)
}

// PlatformBalance sums the platform shards.
func PlatformBalance(svc platformLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet service"))
			return
		}
		total, err := svc.PlatformBalance(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]decimal.Decimal{"balance": total})
	}
}

type creditRequest struct {
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Kind        string           `json:"kind" validate:"omitempty,oneof=customer vendor courier"`
	Description string           `json:"description" validate:"max=255"`
}

// CreditAccount posts a manual topup. The account is created on first credit
// when a kind is given.
func CreditAccount(svc platformLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet service"))
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body creditRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := validators.PositiveAmount("amount", *body.Amount); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Kind != "" {
			kind, err := enums.ParseAccountKind(body.Kind)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind"))
				return
			}
			if err := svc.EnsureAccount(r.Context(), accountID, kind); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		description := validators.SanitizeString(body.Description, 255)
		if description == "" {
			description = "manual topup"
		}
		txID, err := svc.Credit(r.Context(), accountID, *body.Amount, wallet.Meta{
			Type:        enums.TransactionTypeTopup,
			Description: description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"transaction_id": txID,
			"account_id":     accountID,
			"amount":         body.Amount.StringFixed(2),
		})
	}
}

type resellerRequest struct {
	Reseller *bool `json:"reseller" validate:"required"`
}

// SetReseller flags or unflags a vendor account as a reseller.
func SetReseller(svc resellerFlagger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet service"))
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body resellerRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.SetReseller(r.Context(), accountID, *body.Reseller)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

// PendingPayouts pages withdrawals awaiting review, oldest first.
func PendingPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("payouts service"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListPending(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pageResponse[transactionResponse]{
			Items:  newTransactionList(list.Items),
			Cursor: list.Cursor,
		})
	}
}

// ApprovePayout debits the account and completes the withdrawal.
func ApprovePayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("payouts service"))
			return
		}
		adminID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "txId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Approve(r.Context(), txID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(row))
	}
}

type rejectPayoutRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RejectPayout closes a withdrawal without moving money.
func RejectPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("payouts service"))
			return
		}
		adminID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "txId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body rejectPayoutRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		row, err := svc.Reject(r.Context(), txID, adminID, validators.SanitizeString(body.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(row))
	}
}

// RefundOrder reverses a settled order.
func RefundOrder(svc orderReverser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settlement service"))
			return
		}
		adminID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Reverse(r.Context(), orderID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSettlementResponse(row))
	}
}

// ListCommissionRules returns every configured category rate.
func ListCommissionRules(svc revenue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("revenue service"))
			return
		}
		rules, err := svc.ListRules(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]commissionRuleResponse, 0, len(rules))
		for _, rule := range rules {
			items = append(items, newCommissionRule(rule))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

type upsertRuleRequest struct {
	Category string           `json:"category" validate:"required,max=64"`
	Rate     *decimal.Decimal `json:"rate" validate:"required"`
	Active   *bool            `json:"active"`
}

// UpsertCommissionRule creates or replaces the rate of one category.
func UpsertCommissionRule(svc revenue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("revenue service"))
			return
		}
		var body upsertRuleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active := true
		if body.Active != nil {
			active = *body.Active
		}
		rule, err := svc.UpsertRule(r.Context(), revenue.RuleInput{
			Category: strings.TrimSpace(body.Category),
			Rate:     *body.Rate,
			Active:   active,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCommissionRule(*rule))
	}
}
