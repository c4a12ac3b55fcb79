package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the public wallet ledger. Mutations run in their own retrying
// transaction; Postings exposes the same writes for callers composing
// several of them atomically.
type Service interface {
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (uuid.UUID, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (uuid.UUID, error)
	CreditPlatform(ctx context.Context, amount decimal.Decimal, meta Meta) (uuid.UUID, error)
	PlatformBalance(ctx context.Context) (decimal.Decimal, error)
	Balance(ctx context.Context, accountID uuid.UUID) (*AccountBalance, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*HistoryResult, error)
	EnsureAccount(ctx context.Context, accountID uuid.UUID, kind enums.AccountKind) error
	SetReseller(ctx context.Context, accountID uuid.UUID, reseller bool) (*AccountBalance, error)
	Postings(tx *gorm.DB) *Postings
}

// AccountBalance is the read model served to account owners.
type AccountBalance struct {
	AccountID     uuid.UUID         `json:"account_id"`
	Kind          enums.AccountKind `json:"kind"`
	Balance       decimal.Decimal   `json:"balance"`
	PayoutPending bool              `json:"payout_pending"`
	Reseller      bool              `json:"reseller"`
}

// HistoryResult is one page of wallet transactions, newest first.
type HistoryResult struct {
	Items  []models.WalletTransaction `json:"items"`
	Cursor string                     `json:"cursor"`
}

// ServiceParams wires the wallet service.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Events  outbox.Emitter
	Metrics PostingObserver
	Shards  int
}

type service struct {
	repo    Repository
	tx      txRunner
	events  outbox.Emitter
	metrics PostingObserver
	shards  int
}

// NewService builds the wallet ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Shards < 1 {
		return nil, fmt.Errorf("platform shard count must be at least 1")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		events:  params.Events,
		metrics: params.Metrics,
		shards:  params.Shards,
	}, nil
}

func (s *service) Postings(tx *gorm.DB) *Postings {
	return &Postings{
		tx:      tx,
		repo:    s.repo.WithTx(tx),
		shards:  s.shards,
		events:  s.events,
		metrics: s.metrics,
	}
}

func (s *service) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (uuid.UUID, error) {
	return s.post(ctx, func(p *Postings) (*models.WalletTransaction, error) {
		return p.Credit(ctx, accountID, amount, meta)
	})
}

func (s *service) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (uuid.UUID, error) {
	return s.post(ctx, func(p *Postings) (*models.WalletTransaction, error) {
		return p.Debit(ctx, accountID, amount, meta)
	})
}

func (s *service) CreditPlatform(ctx context.Context, amount decimal.Decimal, meta Meta) (uuid.UUID, error) {
	return s.post(ctx, func(p *Postings) (*models.WalletTransaction, error) {
		return p.CreditPlatform(ctx, amount, meta)
	})
}

func (s *service) post(ctx context.Context, fn func(p *Postings) (*models.WalletTransaction, error)) (uuid.UUID, error) {
	var txID uuid.UUID
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		row, err := fn(s.Postings(tx))
		if err != nil {
			return err
		}
		txID = row.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return txID, nil
}

// PlatformBalance sums the root and every shard. The figure is advisory:
// shards keep moving while it is read.
func (s *service) PlatformBalance(ctx context.Context) (decimal.Decimal, error) {
	shards, err := s.repo.ListShards(ctx)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list platform shards")
	}
	total := decimal.Zero
	for _, shard := range shards {
		total = total.Add(shard.Balance)
	}
	return total.Round(2), nil
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (*AccountBalance, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountNotFound(accountID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return toBalance(account), nil
}

func toBalance(account *models.Account) *AccountBalance {
	return &AccountBalance{
		AccountID:     account.ID,
		Kind:          account.Kind,
		Balance:       account.Balance.Round(2),
		PayoutPending: account.PayoutPending,
		Reseller:      account.Reseller,
	}
}

// SetReseller flags a vendor account as a reseller. Orders placed with a
// reseller vendor settle at the fixed reseller rate.
func (s *service) SetReseller(ctx context.Context, accountID uuid.UUID, reseller bool) (*AccountBalance, error) {
	var out *AccountBalance
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		postings := s.Postings(tx)
		account, err := postings.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Kind != enums.AccountKindVendor {
			return pkgerrors.New(pkgerrors.CodeValidation, "only vendor accounts can be resellers")
		}
		if account.Reseller != reseller {
			account.Reseller = reseller
			if err := postings.SaveAccount(ctx, account); err != nil {
				return err
			}
		}
		out = toBalance(account)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*HistoryResult, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListTransactions(ctx, accountID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	result := &HistoryResult{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// EnsureAccount provisions a zero-balance account the first time an
// identity shows up. Existing accounts are left untouched.
func (s *service) EnsureAccount(ctx context.Context, accountID uuid.UUID, kind enums.AccountKind) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid account kind %q", kind))
	}
	account := &models.Account{ID: accountID, Kind: kind, Balance: decimal.Zero}
	if _, err := s.repo.CreateAccountIfMissing(ctx, account); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return nil
}
