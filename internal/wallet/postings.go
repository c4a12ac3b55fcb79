package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
)

// Meta describes a posting. Status defaults to completed.
type Meta struct {
	Type        enums.TransactionType
	OrderID     *uuid.UUID
	Description string
	Destination string
	Status      enums.TransactionStatus
	SettleAt    *time.Time
}

// PostingObserver counts postings by type.
type PostingObserver interface {
	IncPosting(txType string)
}

// Postings applies ledger writes inside a transaction the caller owns.
// Every method re-reads what it validates through tx.
type Postings struct {
	tx      *gorm.DB
	repo    Repository
	shards  int
	events  outbox.Emitter
	metrics PostingObserver
}

// Account loads an account inside the transaction.
func (p *Postings) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := p.repo.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountNotFound(accountID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return account, nil
}

// EnsureAccount provisions the account inside the transaction if it is missing.
func (p *Postings) EnsureAccount(ctx context.Context, accountID uuid.UUID, kind enums.AccountKind) error {
	account := &models.Account{ID: accountID, Kind: kind, Balance: decimal.Zero}
	if _, err := p.repo.CreateAccountIfMissing(ctx, account); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return nil
}

// SaveAccount persists flag or balance changes made by the caller, guarded by
// the account version.
func (p *Postings) SaveAccount(ctx context.Context, account *models.Account) error {
	return p.repo.SaveAccount(ctx, account)
}

// Credit adds amount to the account. A pending meta records a held credit
// without touching the balance; the settlement sweep applies it later.
func (p *Postings) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, invalidAmount()
	}
	account, err := p.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if meta.Status == enums.TransactionStatusPending {
		return p.record(ctx, &account.ID, nil, amount, meta)
	}
	account.Balance = account.Balance.Add(amount)
	if err := p.repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return p.record(ctx, &account.ID, nil, amount, meta)
}

// Debit subtracts amount, refusing to take the balance below zero.
func (p *Postings) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, invalidAmount()
	}
	account, err := p.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(amount) {
		return nil, insufficientBalance(account.ID, account.Balance, amount)
	}
	account.Balance = account.Balance.Sub(amount)
	if err := p.repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return p.record(ctx, &account.ID, nil, amount.Neg(), meta)
}

// Hold records a pending row with a signed amount and no balance change.
func (p *Postings) Hold(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*models.WalletTransaction, error) {
	if amount.IsZero() {
		return nil, invalidAmount()
	}
	if _, err := p.Account(ctx, accountID); err != nil {
		return nil, err
	}
	meta.Status = enums.TransactionStatusPending
	return p.record(ctx, &accountID, nil, amount, meta)
}

// CreditPlatform posts amount to one platform shard picked at random. Only
// that shard row is written, so concurrent fee postings rarely meet. Negative
// amounts are commission refunds.
func (p *Postings) CreditPlatform(ctx context.Context, amount decimal.Decimal, meta Meta) (*models.WalletTransaction, error) {
	if amount.IsZero() {
		return nil, invalidAmount()
	}
	shard := p.pickShard()
	if err := p.repo.IncrementShard(ctx, shard, amount); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit platform shard")
	}
	return p.record(ctx, nil, &shard, amount, meta)
}

// Complete applies a pending row to its account and marks it completed.
// Rows that are no longer pending fail with CONFLICT.
func (p *Postings) Complete(ctx context.Context, txID uuid.UUID) (*models.WalletTransaction, error) {
	row, err := p.pending(ctx, txID)
	if err != nil {
		return nil, err
	}
	if row.AccountID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "platform postings are never pending")
	}
	account, err := p.Account(ctx, *row.AccountID)
	if err != nil {
		return nil, err
	}
	next := account.Balance.Add(row.Amount)
	if next.IsNegative() {
		return nil, insufficientBalance(account.ID, account.Balance, row.Amount.Abs())
	}

	now := time.Now().UTC()
	claimed, err := p.repo.TransitionTransaction(ctx, row.ID, enums.TransactionStatusPending, enums.TransactionStatusCompleted, &now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete wallet transaction")
	}
	if !claimed {
		return nil, notPending(row.ID)
	}
	account.Balance = next
	if err := p.repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	row.Status = enums.TransactionStatusCompleted
	row.SettledAt = &now
	p.observe(row)
	return row, p.emitRecorded(ctx, row)
}

// Reject closes a pending row without moving money.
func (p *Postings) Reject(ctx context.Context, txID uuid.UUID) (*models.WalletTransaction, error) {
	row, err := p.pending(ctx, txID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	claimed, err := p.repo.TransitionTransaction(ctx, row.ID, enums.TransactionStatusPending, enums.TransactionStatusRejected, &now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject wallet transaction")
	}
	if !claimed {
		return nil, notPending(row.ID)
	}
	row.Status = enums.TransactionStatusRejected
	row.SettledAt = &now
	return row, p.emitRecorded(ctx, row)
}

// Transaction loads one row inside the transaction.
func (p *Postings) Transaction(ctx context.Context, txID uuid.UUID) (*models.WalletTransaction, error) {
	row, err := p.repo.FindTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet transaction")
	}
	return row, nil
}

func (p *Postings) pending(ctx context.Context, txID uuid.UUID) (*models.WalletTransaction, error) {
	row, err := p.Transaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if row.Status != enums.TransactionStatusPending {
		return nil, notPending(row.ID)
	}
	return row, nil
}

func (p *Postings) pickShard() int {
	if p.shards <= 1 {
		return 1
	}
	return 1 + rand.IntN(p.shards)
}

func (p *Postings) record(ctx context.Context, accountID *uuid.UUID, shardID *int, amount decimal.Decimal, meta Meta) (*models.WalletTransaction, error) {
	if !meta.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", meta.Type))
	}
	status := meta.Status
	if status == "" {
		status = enums.TransactionStatusCompleted
	}
	row := &models.WalletTransaction{
		AccountID:   accountID,
		ShardID:     shardID,
		Amount:      amount.Round(2),
		Type:        meta.Type,
		Status:      status,
		OrderID:     meta.OrderID,
		Description: optionalString(meta.Description),
		Destination: optionalString(meta.Destination),
		SettleAt:    meta.SettleAt,
	}
	if status == enums.TransactionStatusCompleted {
		now := time.Now().UTC()
		row.SettledAt = &now
	}
	if err := p.repo.InsertTransaction(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert wallet transaction")
	}
	if status == enums.TransactionStatusCompleted {
		p.observe(row)
	}
	return row, p.emitRecorded(ctx, row)
}

func (p *Postings) observe(row *models.WalletTransaction) {
	if p.metrics != nil {
		p.metrics.IncPosting(string(row.Type))
	}
}

func (p *Postings) emitRecorded(ctx context.Context, row *models.WalletTransaction) error {
	if p.events == nil {
		return nil
	}
	return p.events.Emit(ctx, p.tx, outbox.DomainEvent{
		EventType:     enums.EventWalletTransactionRecorded,
		AggregateType: enums.AggregateWalletTransaction,
		AggregateID:   row.ID,
		Data: payloads.WalletTransactionRecordedEvent{
			TransactionID: row.ID,
			AccountID:     row.AccountID,
			ShardID:       row.ShardID,
			OrderID:       row.OrderID,
			Type:          row.Type,
			Status:        row.Status,
			Amount:        row.Amount,
			RecordedAt:    time.Now().UTC(),
		},
	})
}

func notPending(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "wallet transaction is not pending").
		WithDetails(map[string]any{"transaction_id": id})
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
