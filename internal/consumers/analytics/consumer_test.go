package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketledger-backend/pkg/bigquery"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/registry"
)

func TestConsumerRecordsSettlementFact(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	orderID := uuid.New()
	payeeID := uuid.New()
	courierID := uuid.New()
	envelope := buildEnvelope(t, enums.EventOrderSettled, enums.AggregateOrder, payloads.OrderSettledEvent{
		OrderID:      orderID,
		Kind:         enums.OrderKindDelivery,
		PayeeID:      payeeID,
		CourierID:    &courierID,
		ProductTotal: decimal.RequireFromString("100"),
		VendorAmount: decimal.RequireFromString("90"),
		PlatformFee:  decimal.RequireFromString("10"),
		DeliveryFee:  decimal.RequireFromString("5"),
		RateApplied:  decimal.RequireFromString("10"),
	})

	require.NoError(t, consumer.Handle(context.Background(), envelope))
	require.Len(t, inserter.rows, 1)
	require.Equal(t, "ledger_facts", inserter.table)

	row, ok := inserter.rows[0].(*ledgerFactRow)
	require.True(t, ok)
	require.Equal(t, envelope.EventID.String(), row.EventID)
	require.Equal(t, string(enums.EventOrderSettled), row.EventType)
	require.Equal(t, orderID.String(), *row.OrderID)
	require.Equal(t, payeeID.String(), *row.AccountID)
	require.Equal(t, courierID.String(), *row.CourierID)
	require.Equal(t, "100.00", *row.Amount)
	require.Equal(t, "90.00", *row.VendorAmount)
	require.Equal(t, "10.00", *row.PlatformFee)
	require.Equal(t, "5.00", *row.DeliveryFee)
	require.True(t, row.Payload.Valid)
}

func TestConsumerRecordsShardTransaction(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	shard := 3
	envelope := buildEnvelope(t, enums.EventWalletTransactionRecorded, enums.AggregateWalletTransaction, payloads.WalletTransactionRecordedEvent{
		TransactionID: uuid.New(),
		ShardID:       &shard,
		Type:          enums.TransactionTypePlatformFee,
		Status:        enums.TransactionStatusCompleted,
		Amount:        decimal.RequireFromString("1.5"),
	})

	require.NoError(t, consumer.Handle(context.Background(), envelope))
	require.Len(t, inserter.rows, 1)
	row := inserter.rows[0].(*ledgerFactRow)
	require.Nil(t, row.AccountID)
	require.True(t, row.ShardID.Valid)
	require.EqualValues(t, 3, row.ShardID.Int64)
	require.Equal(t, "platform_fee", *row.TransactionType)
	require.Equal(t, "1.50", *row.Amount)
}

func TestConsumerMarksRefundReversal(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	envelope := buildEnvelope(t, enums.EventOrderRefunded, enums.AggregateOrder, payloads.OrderRefundedEvent{
		OrderID:    uuid.New(),
		CustomerID: uuid.New(),
		Amount:     decimal.RequireFromString("42"),
		Reversal:   true,
	})

	require.NoError(t, consumer.Handle(context.Background(), envelope))
	row := inserter.rows[0].(*ledgerFactRow)
	require.True(t, row.Reversal.Valid)
	require.True(t, row.Reversal.Bool)
}

func TestConsumerSkipsEventsWithoutDecoder(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	envelope := buildEnvelope(t, enums.EventOrderPlaced, enums.AggregateOrder, map[string]any{"order_id": uuid.NewString()})

	require.NoError(t, consumer.Handle(context.Background(), envelope))
	require.Empty(t, inserter.rows)
}

func TestConsumerFailsOnBadPayload(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	envelope := Envelope{
		EventID:   uuid.New(),
		EventType: enums.EventPayoutDecided,
		Version:   1,
		Payload:   json.RawMessage("{invalid json"),
	}

	require.Error(t, consumer.Handle(context.Background(), envelope))
	require.Empty(t, inserter.rows)
}

func TestConsumerPropagatesInsertFailure(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("bigquery down")}
	consumer := mustConsumer(t, inserter)

	envelope := buildEnvelope(t, enums.EventPayoutRequested, enums.AggregateWalletTransaction, payloads.PayoutRequestedEvent{
		TransactionID: uuid.New(),
		AccountID:     uuid.New(),
		Amount:        decimal.RequireFromString("25"),
		Destination:   "iban:DE00",
	})

	err := consumer.Handle(context.Background(), envelope)
	require.ErrorContains(t, err, "bigquery down")
}

func TestConsumerAcksRowsBigQueryRejects(t *testing.T) {
	inserter := &fakeInserter{err: &bigquery.InsertError{Table: "ledger_facts", Failed: 1, First: errors.New("no such field")}}
	consumer := mustConsumer(t, inserter)

	envelope := buildEnvelope(t, enums.EventPayoutRequested, enums.AggregateWalletTransaction, payloads.PayoutRequestedEvent{
		TransactionID: uuid.New(),
		AccountID:     uuid.New(),
		Amount:        decimal.RequireFromString("25"),
		Destination:   "iban:DE00",
	})

	require.NoError(t, consumer.Handle(context.Background(), envelope))
}

func TestNewConsumerValidatesDependencies(t *testing.T) {
	logg := testLogger()
	_, err := NewConsumer(nil, "ledger_facts", registry.NewLedgerDecoderRegistry(), logg)
	require.Error(t, err)
	_, err = NewConsumer(&fakeInserter{}, " ", registry.NewLedgerDecoderRegistry(), logg)
	require.Error(t, err)
	_, err = NewConsumer(&fakeInserter{}, "ledger_facts", nil, logg)
	require.Error(t, err)
}

type fakeInserter struct {
	table string
	rows  []any
	err   error
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.table = table
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: "analytics-test",
		Level:       logger.ParseLevel("debug"),
		Output:      io.Discard,
	})
}

func mustConsumer(t *testing.T, inserter *fakeInserter) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(inserter, "ledger_facts", registry.NewLedgerDecoderRegistry(), testLogger())
	require.NoError(t, err)
	return consumer
}

func buildEnvelope(t *testing.T, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, payload any) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   uuid.NewString(),
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
	}
}
