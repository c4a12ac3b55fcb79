package analytics

import (
	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/marketledger-backend/pkg/bigquery"
)

// LedgerFactsTable is the ledger_facts table spec, partitioned by day on
// occurred_at. Money columns are NUMERIC and receive fixed two-place strings.
func LedgerFactsTable(name string) bigquery.TableSpec {
	return bigquery.TableSpec{
		Name:           name,
		Schema:         ledgerFactSchema(),
		PartitionField: "occurred_at",
		Clustering:     []string{"event_type", "account_id"},
	}
}

func ledgerFactSchema() cbigquery.Schema {
	required := func(name string, typ cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: typ, Required: true}
	}
	nullable := func(name string, typ cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: typ}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("aggregate_type", cbigquery.StringFieldType),
		required("aggregate_id", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		nullable("order_id", cbigquery.StringFieldType),
		nullable("account_id", cbigquery.StringFieldType),
		nullable("courier_id", cbigquery.StringFieldType),
		nullable("transaction_id", cbigquery.StringFieldType),
		nullable("shard_id", cbigquery.IntegerFieldType),
		nullable("transaction_type", cbigquery.StringFieldType),
		nullable("status", cbigquery.StringFieldType),
		nullable("amount", cbigquery.NumericFieldType),
		nullable("vendor_amount", cbigquery.NumericFieldType),
		nullable("platform_fee", cbigquery.NumericFieldType),
		nullable("delivery_fee", cbigquery.NumericFieldType),
		nullable("rate_applied", cbigquery.NumericFieldType),
		nullable("reversal", cbigquery.BooleanFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}
