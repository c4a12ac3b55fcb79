package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

const (
	metadataCheckTimeout = 10 * time.Second
	// maxRowsPerInsert keeps one streaming request well under the API's
	// request size limit.
	maxRowsPerInsert = 500
)

// Client streams rows into one dataset and owns the lifecycle of the
// tables it was configured with.
type Client struct {
	client    *bigquery.Client
	dataset   *bigquery.Dataset
	projectID string
	tables    []string
	specs     map[string]TableSpec
	logg      *logger.Logger
}

// TableSpec describes a table the client creates on startup when it is
// missing. Tables without a spec must already exist.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
	Clustering     []string
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// InsertError reports rows BigQuery rejected individually. Retrying the
// same rows will fail the same way.
type InsertError struct {
	Table  string
	Failed int
	First  error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("bigquery %s: %d row(s) rejected: %v", e.Table, e.Failed, e.First)
}

func (e *InsertError) Unwrap() error { return e.First }

// NewClient creates a BigQuery client, verifies the dataset and creates any
// configured table that is missing and has a spec.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, specs ...TableSpec) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	tables := configuredTables(cfg)
	if len(tables) == 0 {
		return nil, errTableNameRequired
	}

	opts := clientOptions(gcp)
	bqClient, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:    bqClient,
		dataset:   bqClient.Dataset(datasetID),
		projectID: projectID,
		tables:    tables,
		specs:     make(map[string]TableSpec, len(specs)),
		logg:      logg,
	}
	for _, spec := range specs {
		client.specs[strings.TrimSpace(spec.Name)] = spec
	}

	if err := client.ensureDatasetAndTables(ctx, true); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "bigquery client initialized")
	}

	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

func configuredTables(cfg config.BigQueryConfig) []string {
	var tables []string
	for _, name := range []string{cfg.LedgerFactTable} {
		if name = strings.TrimSpace(name); name != "" {
			tables = append(tables, name)
		}
	}
	return tables
}

func (c *Client) ensureDatasetAndTables(ctx context.Context, create bool) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	for _, name := range c.tables {
		_, err := c.dataset.Table(name).Metadata(ctx)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
		spec, ok := c.specs[name]
		if !create || !ok {
			return fmt.Errorf("table %q does not exist", name)
		}
		if err := c.dataset.Table(name).Create(ctx, tableMetadata(spec)); err != nil {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		if c.logg != nil {
			c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
		}
	}

	return nil
}

func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	md := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		md.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	if len(spec.Clustering) > 0 {
		md.Clustering = &bigquery.Clustering{Fields: spec.Clustering}
	}
	return md
}

// Ping verifies the dataset and tables are accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensureDatasetAndTables(ctx, false)
}

// InsertRows streams rows into table in bounded chunks. Rows implementing
// bigquery.ValueSaver with an insert id are deduplicated by BigQuery when a
// chunk is retried.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}

	inserter := c.dataset.Table(table).Inserter()
	for chunk := range slices.Chunk(rows, maxRowsPerInsert) {
		if err := inserter.Put(ctx, chunk); err != nil {
			return rowFailure(table, err)
		}
	}
	return nil
}

// rowFailure turns a per-row rejection into an InsertError and leaves
// transport errors untouched.
func rowFailure(table string, err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) || len(multi) == 0 {
		return err
	}
	return &InsertError{Table: table, Failed: len(multi), First: &multi[0]}
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
