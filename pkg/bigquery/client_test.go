package bigquery

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
)

func TestConfiguredTables(t *testing.T) {
	cfg := config.BigQueryConfig{
		Dataset:         "marketledger",
		LedgerFactTable: " ledger_facts ",
	}

	tables := configuredTables(cfg)

	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	if tables[0] != "ledger_facts" {
		t.Fatalf("expected ledger_facts, got %s", tables[0])
	}
}

func TestClientOptionsPrioritizesJSON(t *testing.T) {
	gcp := config.GCPConfig{
		CredentialsJSON:        `{"dummy": "value"}`,
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestClientOptionsWithFile(t *testing.T) {
	gcp := config.GCPConfig{
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option when using credentials file, got %d", len(opts))
	}
}

func TestConfiguredTablesBlank(t *testing.T) {
	if tables := configuredTables(config.BigQueryConfig{LedgerFactTable: "  "}); len(tables) != 0 {
		t.Fatalf("expected no tables, got %v", tables)
	}
}

func TestClientOptionsEmpty(t *testing.T) {
	gcp := config.GCPConfig{}

	opts := clientOptions(gcp)
	if len(opts) != 0 {
		t.Fatalf("expected 0 options when no credentials provided, got %d", len(opts))
	}
}

func TestTableMetadataPartitionsAndClusters(t *testing.T) {
	md := tableMetadata(TableSpec{
		Name:           "ledger_facts",
		Schema:         bigquery.Schema{{Name: "occurred_at", Type: bigquery.TimestampFieldType}},
		PartitionField: "occurred_at",
		Clustering:     []string{"event_type"},
	})
	if md.TimePartitioning == nil || md.TimePartitioning.Field != "occurred_at" {
		t.Fatalf("expected daily partitioning on occurred_at, got %+v", md.TimePartitioning)
	}
	if md.TimePartitioning.Type != bigquery.DayPartitioningType {
		t.Fatalf("expected day partitioning, got %s", md.TimePartitioning.Type)
	}
	if md.Clustering == nil || len(md.Clustering.Fields) != 1 {
		t.Fatalf("expected clustering on event_type")
	}
}

func TestTableMetadataWithoutPartition(t *testing.T) {
	md := tableMetadata(TableSpec{Name: "plain"})
	if md.TimePartitioning != nil || md.Clustering != nil {
		t.Fatalf("expected plain table metadata, got %+v", md)
	}
}

func TestRowFailureWrapsRejectedRows(t *testing.T) {
	rejected := bigquery.PutMultiError{
		{InsertID: "evt-1", RowIndex: 0, Errors: bigquery.MultiError{errors.New("no such field: vendor")}},
		{InsertID: "evt-2", RowIndex: 1, Errors: bigquery.MultiError{errors.New("no such field: vendor")}},
	}

	err := rowFailure("ledger_facts", rejected)
	var insertErr *InsertError
	if !errors.As(err, &insertErr) {
		t.Fatalf("expected InsertError, got %T", err)
	}
	if insertErr.Failed != 2 || insertErr.Table != "ledger_facts" {
		t.Fatalf("unexpected insert error %+v", insertErr)
	}
	var row *bigquery.RowInsertionError
	if !errors.As(err, &row) || row.InsertID != "evt-1" {
		t.Fatalf("expected first rejected row to unwrap, got %v", insertErr.First)
	}
}

func TestRowFailurePassesTransportErrors(t *testing.T) {
	transport := errors.New("connection reset")
	if err := rowFailure("ledger_facts", transport); err != transport {
		t.Fatalf("expected transport error unchanged, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(fmt.Errorf("lookup: %w", &googleapi.Error{Code: http.StatusNotFound})) {
		t.Fatal("expected wrapped 404 to be not found")
	}
	if isNotFound(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Fatal("403 is not a not-found")
	}
}
