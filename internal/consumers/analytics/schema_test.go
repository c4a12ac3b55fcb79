package analytics

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerFactSchemaMatchesRowColumns(t *testing.T) {
	var columns []string
	rowType := reflect.TypeOf(ledgerFactRow{})
	for i := 0; i < rowType.NumField(); i++ {
		columns = append(columns, rowType.Field(i).Tag.Get("bigquery"))
	}

	var fields []string
	for _, field := range ledgerFactSchema() {
		fields = append(fields, field.Name)
	}

	require.Equal(t, columns, fields)
}

func TestLedgerFactsTablePartitionsOnOccurredAt(t *testing.T) {
	spec := LedgerFactsTable("ledger_facts")
	require.Equal(t, "ledger_facts", spec.Name)
	require.Equal(t, "occurred_at", spec.PartitionField)
}
