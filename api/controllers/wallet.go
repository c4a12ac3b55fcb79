package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/api/responses"
	"github.com/angelmondragon/marketledger-backend/api/validators"
	"github.com/angelmondragon/marketledger-backend/internal/payouts"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

type walletReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*wallet.AccountBalance, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*wallet.HistoryResult, error)
}

// WalletBalance returns the caller's balance and payout flag.
func WalletBalance(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet service"))
			return
		}
		userID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// WalletTransactions pages the caller's transaction history, newest first.
func WalletTransactions(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet service"))
			return
		}
		userID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pageResponse[transactionResponse]{
			Items:  newTransactionList(page.Items),
			Cursor: page.Cursor,
		})
	}
}

type payoutStatusResponse struct {
	AccountID     string               `json:"account_id"`
	PayoutPending bool                 `json:"payout_pending"`
	Withdrawal    *transactionResponse `json:"withdrawal,omitempty"`
}

// PayoutStatus reports whether the caller has a withdrawal awaiting review.
func PayoutStatus(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("payouts service"))
			return
		}
		userID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := svc.Status(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutStatusResponse{
			AccountID:     status.AccountID.String(),
			PayoutPending: status.PayoutPending,
			Withdrawal:    newTransactionResponse(status.Withdrawal),
		})
	}
}

type payoutRequest struct {
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Destination string           `json:"destination" validate:"required,max=255"`
}

// RequestPayout opens a pending withdrawal for the caller.
func RequestPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("payouts service"))
			return
		}
		userID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body payoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := validators.PositiveAmount("amount", *body.Amount); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Request(r.Context(), userID, *body.Amount, validators.SanitizeString(body.Destination, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(row))
	}
}
