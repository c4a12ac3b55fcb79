package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/pkg/bigquery"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/registry"
)

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

// Envelope is a ledger event as received from the ledger topic.
type Envelope struct {
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Version       int
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// Consumer turns ledger events into ledger_facts rows.
type Consumer struct {
	client   tableInserter
	table    string
	decoders payloadDecoder
	logg     *logger.Logger
}

// NewConsumer builds a new ledger facts consumer.
func NewConsumer(client tableInserter, table string, decoders payloadDecoder, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client:   client,
		table:    strings.TrimSpace(table),
		decoders: decoders,
		logg:     logg,
	}, nil
}

// errUnhandledEvent marks events that produce no fact row.
var errUnhandledEvent = errors.New("event not handled by ledger facts consumer")

// Handle decodes the envelope and streams one fact row into BigQuery.
func (c *Consumer) Handle(ctx context.Context, envelope Envelope) error {
	row, err := c.buildRow(envelope)
	if errors.Is(err, errUnhandledEvent) {
		c.logg.Debug(ctx, "event not handled by ledger facts consumer")
		return nil
	}
	if err != nil {
		return err
	}
	err = c.client.InsertRows(ctx, c.table, []any{row})
	var rejected *bigquery.InsertError
	if errors.As(err, &rejected) {
		// a redelivery would be rejected the same way
		c.logg.Error(c.logg.WithField(ctx, "event_type", envelope.EventType), "ledger fact rejected by bigquery", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert ledger fact: %w", err)
	}
	return nil
}

func (c *Consumer) buildRow(envelope Envelope) (*ledgerFactRow, error) {
	version := envelope.Version
	if version == 0 {
		version = 1
	}
	decoded, err := c.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		if errors.Is(err, registry.ErrDecoderNotRegistered) {
			return nil, errUnhandledEvent
		}
		return nil, fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	row := &ledgerFactRow{
		EventID:       envelope.EventID.String(),
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt.UTC(),
	}
	if len(envelope.Payload) > 0 {
		row.Payload = cbigquery.NullJSON{JSONVal: string(envelope.Payload), Valid: true}
	}

	switch p := decoded.(type) {
	case *payloads.OrderSettledEvent:
		row.OrderID = uuidString(&p.OrderID)
		row.AccountID = uuidString(&p.PayeeID)
		row.CourierID = uuidString(p.CourierID)
		row.Amount = amount(p.ProductTotal)
		row.VendorAmount = amount(p.VendorAmount)
		row.PlatformFee = amount(p.PlatformFee)
		row.DeliveryFee = amount(p.DeliveryFee)
		row.RateApplied = amount(p.RateApplied)
	case *payloads.OrderRefundedEvent:
		row.OrderID = uuidString(&p.OrderID)
		row.AccountID = uuidString(&p.CustomerID)
		row.Amount = amount(p.Amount)
		row.Reversal = cbigquery.NullBool{Bool: p.Reversal, Valid: true}
	case *payloads.WalletTransactionRecordedEvent:
		row.TransactionID = uuidString(&p.TransactionID)
		row.AccountID = uuidString(p.AccountID)
		row.OrderID = uuidString(p.OrderID)
		if p.ShardID != nil {
			row.ShardID = cbigquery.NullInt64{Int64: int64(*p.ShardID), Valid: true}
		}
		row.TransactionType = stringPtr(string(p.Type))
		row.Status = stringPtr(string(p.Status))
		row.Amount = amount(p.Amount)
	case *payloads.PayoutRequestedEvent:
		row.TransactionID = uuidString(&p.TransactionID)
		row.AccountID = uuidString(&p.AccountID)
		row.TransactionType = stringPtr(string(enums.TransactionTypeWithdrawal))
		row.Status = stringPtr(string(enums.TransactionStatusPending))
		row.Amount = amount(p.Amount)
	case *payloads.PayoutDecidedEvent:
		row.TransactionID = uuidString(&p.TransactionID)
		row.AccountID = uuidString(&p.AccountID)
		row.TransactionType = stringPtr(string(enums.TransactionTypeWithdrawal))
		row.Status = stringPtr(string(p.Status))
		row.Amount = amount(p.Amount)
	default:
		return nil, errUnhandledEvent
	}
	return row, nil
}

type ledgerFactRow struct {
	EventID         string              `bigquery:"event_id"`
	EventType       string              `bigquery:"event_type"`
	AggregateType   string              `bigquery:"aggregate_type"`
	AggregateID     string              `bigquery:"aggregate_id"`
	OccurredAt      time.Time           `bigquery:"occurred_at"`
	OrderID         *string             `bigquery:"order_id"`
	AccountID       *string             `bigquery:"account_id"`
	CourierID       *string             `bigquery:"courier_id"`
	TransactionID   *string             `bigquery:"transaction_id"`
	ShardID         cbigquery.NullInt64 `bigquery:"shard_id"`
	TransactionType *string             `bigquery:"transaction_type"`
	Status          *string             `bigquery:"status"`
	Amount          *string             `bigquery:"amount"`
	VendorAmount    *string             `bigquery:"vendor_amount"`
	PlatformFee     *string             `bigquery:"platform_fee"`
	DeliveryFee     *string             `bigquery:"delivery_fee"`
	RateApplied     *string             `bigquery:"rate_applied"`
	Reversal        cbigquery.NullBool  `bigquery:"reversal"`
	Payload         cbigquery.NullJSON  `bigquery:"payload"`
}

// Save keys the streaming insert on the event id so BigQuery drops retried rows.
func (r *ledgerFactRow) Save() (map[string]cbigquery.Value, string, error) {
	saver := &cbigquery.StructSaver{Struct: r, InsertID: r.EventID}
	return saver.Save()
}

// amount keeps the fixed two-place representation; the column is NUMERIC.
func amount(d decimal.Decimal) *string {
	s := d.StringFixed(2)
	return &s
}

func uuidString(id *uuid.UUID) *string {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
