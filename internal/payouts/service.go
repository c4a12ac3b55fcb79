// Package payouts runs withdrawals through admin approval and sweeps held
// earnings into balances once their hold expires.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

const defaultSweepLimit = 200

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Ledger hands out transaction-bound wallet postings.
type Ledger interface {
	Postings(tx *gorm.DB) *wallet.Postings
}

// Notifier tells account owners about payout decisions.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, body string, kind enums.NotificationType, data map[string]any) error
}

// Status is the payout view of one account.
type Status struct {
	AccountID     uuid.UUID                 `json:"account_id"`
	PayoutPending bool                      `json:"payout_pending"`
	Withdrawal    *models.WalletTransaction `json:"withdrawal,omitempty"`
}

// PendingList is one page of withdrawals awaiting a decision.
type PendingList struct {
	Items  []models.WalletTransaction `json:"items"`
	Cursor string                     `json:"cursor,omitempty"`
}

// Service is the payout workflow.
type Service interface {
	Request(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, destination string) (*models.WalletTransaction, error)
	Approve(ctx context.Context, txID, adminID uuid.UUID) (*models.WalletTransaction, error)
	Reject(ctx context.Context, txID, adminID uuid.UUID, reason string) (*models.WalletTransaction, error)
	SettlePending(ctx context.Context, now time.Time, limit int) (int, error)
	Status(ctx context.Context, accountID uuid.UUID) (*Status, error)
	ListPending(ctx context.Context, params pagination.Params) (*PendingList, error)
}

// ServiceParams wires the payout workflow.
type ServiceParams struct {
	Repo     Repository
	Ledger   Ledger
	Tx       txRunner
	Events   outbox.Emitter
	Notifier Notifier
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	ledger   Ledger
	tx       txRunner
	events   outbox.Emitter
	notifier Notifier
	logg     *logger.Logger
}

// NewService builds the payout workflow.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payouts repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("wallet ledger required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:     params.Repo,
		ledger:   params.Ledger,
		tx:       params.Tx,
		events:   params.Events,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

// Request opens a withdrawal. The row is pending with the negative amount
// and the balance only moves on approval; the account flag blocks a second
// request until the first is decided.
func (s *service) Request(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, destination string) (*models.WalletTransaction, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout destination required")
	}
	amount = amount.Round(2)

	var row *models.WalletTransaction
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		postings := s.ledger.Postings(tx)
		account, err := postings.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if account.PayoutPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "a payout is already pending").
				WithDetails(map[string]any{"account_id": accountID})
		}
		if account.Balance.LessThan(amount) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
				WithDetails(map[string]any{"account_id": accountID, "balance": account.Balance, "amount": amount})
		}
		row, err = postings.Hold(ctx, accountID, amount.Neg(), wallet.Meta{
			Type:        enums.TransactionTypeWithdrawal,
			Destination: destination,
			Description: "payout request",
		})
		if err != nil {
			return err
		}
		account.PayoutPending = true
		if err := postings.SaveAccount(ctx, account); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregateWalletTransaction,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{UserID: accountID, Role: string(account.Kind)},
			Data: payloads.PayoutRequestedEvent{
				TransactionID: row.ID,
				AccountID:     accountID,
				Amount:        amount,
				Destination:   destination,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Approve debits the account under its version check, completes the row and
// clears the flag. The balance is validated again at this point.
func (s *service) Approve(ctx context.Context, txID, adminID uuid.UUID) (*models.WalletTransaction, error) {
	return s.decide(ctx, txID, adminID, enums.TransactionStatusCompleted, "")
}

// Reject closes the row and clears the flag without moving money.
func (s *service) Reject(ctx context.Context, txID, adminID uuid.UUID, reason string) (*models.WalletTransaction, error) {
	return s.decide(ctx, txID, adminID, enums.TransactionStatusRejected, strings.TrimSpace(reason))
}

func (s *service) decide(ctx context.Context, txID, adminID uuid.UUID, outcome enums.TransactionStatus, reason string) (*models.WalletTransaction, error) {
	if txID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	var row *models.WalletTransaction
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		postings := s.ledger.Postings(tx)
		current, err := postings.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		if current.Type != enums.TransactionTypeWithdrawal || current.AccountID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "transaction is not a withdrawal")
		}
		if outcome == enums.TransactionStatusCompleted {
			row, err = postings.Complete(ctx, txID)
		} else {
			row, err = postings.Reject(ctx, txID)
		}
		if err != nil {
			return err
		}

		account, err := postings.Account(ctx, *row.AccountID)
		if err != nil {
			return err
		}
		account.PayoutPending = false
		if err := postings.SaveAccount(ctx, account); err != nil {
			return err
		}

		var decidedBy *uuid.UUID
		var actor *outbox.ActorRef
		if adminID != uuid.Nil {
			decidedBy = &adminID
			actor = &outbox.ActorRef{UserID: adminID, Role: string(enums.RoleAdmin)}
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutDecided,
			AggregateType: enums.AggregateWalletTransaction,
			AggregateID:   row.ID,
			Actor:         actor,
			Data: payloads.PayoutDecidedEvent{
				TransactionID: row.ID,
				AccountID:     *row.AccountID,
				Status:        row.Status,
				Amount:        row.Amount.Abs(),
				DecidedBy:     decidedBy,
				Reason:        reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.notifyDecision(ctx, row, reason)
	return row, nil
}

func (s *service) notifyDecision(ctx context.Context, row *models.WalletTransaction, reason string) {
	if s.notifier == nil || row == nil || row.AccountID == nil {
		return
	}
	body := fmt.Sprintf("Your payout of %s was approved", row.Amount.Abs().StringFixed(2))
	if row.Status == enums.TransactionStatusRejected {
		body = fmt.Sprintf("Your payout of %s was rejected", row.Amount.Abs().StringFixed(2))
		if reason != "" {
			body += ": " + reason
		}
	}
	data := map[string]any{"transaction_id": row.ID.String(), "status": string(row.Status)}
	if err := s.notifier.Notify(ctx, *row.AccountID, "Payout update", body, enums.NotificationTypePayout, data); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"transaction_id": row.ID.String(),
			"error":          err.Error(),
		}), "payout notification failed")
	}
}

// SettlePending applies held credits whose hold has expired. Each row gets
// its own transaction so one failure does not stall the rest; rows claimed by
// a concurrent sweep are skipped.
func (s *service) SettlePending(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	rows, err := s.repo.ListDue(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due transactions")
	}

	settled := 0
	var errs error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return settled, multierr.Append(errs, err)
		}
		err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
			_, err := s.ledger.Postings(tx).Complete(ctx, row.ID)
			return err
		})
		switch {
		case err == nil:
			settled++
		case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
			// claimed elsewhere
		default:
			errs = multierr.Append(errs, fmt.Errorf("settle transaction %s: %w", row.ID, err))
		}
	}
	return settled, errs
}

func (s *service) Status(ctx context.Context, accountID uuid.UUID) (*Status, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeAccountNotFound, "account not found").
				WithDetails(map[string]any{"account_id": accountID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	open, err := s.repo.OpenWithdrawal(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open withdrawal")
	}
	return &Status{AccountID: account.ID, PayoutPending: account.PayoutPending, Withdrawal: open}, nil
}

func (s *service) ListPending(ctx context.Context, params pagination.Params) (*PendingList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListPending(ctx, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payouts")
	}
	list := &PendingList{Items: rows}
	if next != nil {
		list.Cursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}
