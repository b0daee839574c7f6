package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BigQueryOptions names the BigQuery objects the pipeline uses
type BigQueryOptions struct {
	ProjectID        string
	Location         string
	Dataset          string
	StagingTable     string
	StructuredPrefix string
	Model            string
	EANFunction      string

	// Optional; when set, Migrate creates the remote model and function
	ConnectionID   string
	ModelEndpoint  string
	EANEndpointURL string
}

func (o BigQueryOptions) validate() error {
	if err := validateNames(bqIdentPattern, map[string]string{
		"project":           o.ProjectID,
		"dataset":           o.Dataset,
		"staging table":     o.StagingTable,
		"structured prefix": o.StructuredPrefix,
		"model":             o.Model,
		"function":          o.EANFunction,
	}); err != nil {
		return err
	}
	if o.ConnectionID == "" {
		return nil
	}
	if err := validateNames(bqDottedPattern, map[string]string{
		"connection":     o.ConnectionID,
		"model endpoint": o.ModelEndpoint,
	}); err != nil {
		return err
	}
	if o.EANEndpointURL != "" {
		return validateEndpointURL(o.EANEndpointURL)
	}
	return nil
}

// ref returns the backquoted fully qualified name of an object in the dataset
func (o BigQueryOptions) ref(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", o.ProjectID, o.Dataset, name)
}

// stagingRow is the staging table schema
type stagingRow struct {
	ProductID string              `bigquery:"product_id"`
	RawText   string              `bigquery:"raw_text"`
	ImageURL1 bigquery.NullString `bigquery:"image_url_1"`
}

// enrichedRow is one row of the enrichment query
type enrichedRow struct {
	ProductID    string              `bigquery:"product_id"`
	ProductTitle bigquery.NullString `bigquery:"product_title"`
	Description  bigquery.NullString `bigquery:"description"`
	Color        bigquery.NullString `bigquery:"color"`
	Material     bigquery.NullString `bigquery:"material"`
	Battery      bigquery.NullString `bigquery:"battery"`
	Power        bigquery.NullString `bigquery:"power"`
	Dimensions   bigquery.NullString `bigquery:"dimensions"`
	ImageURL1    bigquery.NullString `bigquery:"image_url_1"`
	EANUPC       bigquery.NullString `bigquery:"ean_upc"`
}

func (r enrichedRow) toFinal() *domain.FinalRecord {
	return domain.NewFinalRecord(domain.StructuredRecord{
		ProductID:    r.ProductID,
		ProductTitle: r.ProductTitle.StringVal,
		Description:  r.Description.StringVal,
		Color:        r.Color.StringVal,
		Material:     r.Material.StringVal,
		Battery:      r.Battery.StringVal,
		Power:        r.Power.StringVal,
		Dimensions:   r.Dimensions.StringVal,
	}, r.ImageURL1.StringVal, r.EANUPC.StringVal)
}

// BigQueryWarehouse runs structuring with AI.GENERATE_TABLE and enrichment
// with a remote EAN lookup function, all inside BigQuery
type BigQueryWarehouse struct {
	client *bigquery.Client
	opts   BigQueryOptions
	logger zerolog.Logger
}

// NewBigQueryWarehouse connects with application default credentials
func NewBigQueryWarehouse(ctx context.Context, opts BigQueryOptions, logger zerolog.Logger) (*BigQueryWarehouse, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	client.Location = opts.Location

	return &BigQueryWarehouse{
		client: client,
		opts:   opts,
		logger: observability.Component(logger, "warehouse").With().Str("backend", "bigquery").Logger(),
	}, nil
}

// Close releases the client
func (w *BigQueryWarehouse) Close() error {
	return w.client.Close()
}

// Migrate creates the dataset and staging table, plus the remote model and
// function when a connection is configured
func (w *BigQueryWarehouse) Migrate(ctx context.Context) error {
	ds := w.client.Dataset(w.opts.Dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read dataset %s: %w", w.opts.Dataset, err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: w.opts.Location}); err != nil {
			return fmt.Errorf("failed to create dataset %s: %w", w.opts.Dataset, err)
		}
		w.logger.Info().Str("dataset", w.opts.Dataset).Msg("dataset created")
	}

	schema, err := bigquery.InferSchema(stagingRow{})
	if err != nil {
		return fmt.Errorf("failed to infer staging schema: %w", err)
	}
	table := ds.Table(w.opts.StagingTable)
	if _, err := table.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read table %s: %w", w.opts.StagingTable, err)
		}
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return fmt.Errorf("failed to create table %s: %w", w.opts.StagingTable, err)
		}
		w.logger.Info().Str("table", w.opts.StagingTable).Msg("staging table created")
	}

	if w.opts.ConnectionID == "" {
		w.logger.Info().Msg("no connection configured; remote model and function must already exist")
		return nil
	}

	for _, ddl := range remoteObjectsDDL(w.opts) {
		if err := w.runAndWait(ctx, w.client.Query(ddl)); err != nil {
			return fmt.Errorf("failed to create remote object: %w", err)
		}
	}
	return nil
}

// remoteObjectsDDL builds the statements creating the remote model and EAN function
func remoteObjectsDDL(o BigQueryOptions) []string {
	stmts := []string{fmt.Sprintf(
		"CREATE MODEL IF NOT EXISTS %s\nREMOTE WITH CONNECTION `%s`\nOPTIONS (ENDPOINT = '%s')",
		o.ref(o.Model), o.ConnectionID, o.ModelEndpoint,
	)}
	if o.EANEndpointURL != "" {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE FUNCTION IF NOT EXISTS %s(title STRING) RETURNS STRING\nREMOTE WITH CONNECTION `%s`\nOPTIONS (endpoint = '%s')",
			o.ref(o.EANFunction), o.ConnectionID, o.EANEndpointURL,
		))
	}
	return stmts
}

// AppendStaging appends one row with a load job and waits for it
func (w *BigQueryWarehouse) AppendStaging(ctx context.Context, record domain.StagingRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode staging row: %w", err)
	}
	body = append(body, '\n')

	schema, err := bigquery.InferSchema(stagingRow{})
	if err != nil {
		return fmt.Errorf("failed to infer staging schema: %w", err)
	}

	source := bigquery.NewReaderSource(bytes.NewReader(body))
	source.SourceFormat = bigquery.JSON
	source.Schema = schema

	loader := w.client.Dataset(w.opts.Dataset).Table(w.opts.StagingTable).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to start staging load: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for staging load: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("staging load failed: %w", err)
	}

	w.logger.Info().Str("product_id", record.ProductID).Msg("staging row appended")
	return nil
}

// structuringSQL builds the AI.GENERATE_TABLE query for one product
func structuringSQL(o BigQueryOptions) string {
	return fmt.Sprintf(`SELECT *
FROM AI.GENERATE_TABLE(
  MODEL %s,
  (
    SELECT product_id, raw_text AS prompt
    FROM %s
    WHERE product_id = @product_id
  ),
  STRUCT('%s' AS output_schema)
)`, o.ref(o.Model), o.ref(o.StagingTable), outputSchema)
}

// Structure materializes the model output for one product into its own table
func (w *BigQueryWarehouse) Structure(ctx context.Context, productID string) error {
	if err := ValidateProductID(productID); err != nil {
		return err
	}

	dst := w.client.Dataset(w.opts.Dataset).Table(structuredTableName(w.opts.StructuredPrefix, productID))

	q := w.client.Query(structuringSQL(w.opts))
	q.Parameters = []bigquery.QueryParameter{{Name: "product_id", Value: productID}}
	q.Dst = dst
	q.WriteDisposition = bigquery.WriteTruncate
	q.CreateDisposition = bigquery.CreateIfNeeded

	if err := w.runAndWait(ctx, q); err != nil {
		return fmt.Errorf("structuring query failed: %w", err)
	}

	md, err := dst.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to read structured table: %w", err)
	}
	if err := checkOutputSchema(md.Schema); err != nil {
		return err
	}

	w.logger.Info().
		Str("product_id", productID).
		Uint64("rows", md.NumRows).
		Msg("structuring completed")
	return nil
}

// checkOutputSchema verifies the model produced every field as a string column
func checkOutputSchema(schema bigquery.Schema) error {
	types := make(map[string]bigquery.FieldType, len(schema))
	for _, f := range schema {
		types[f.Name] = f.Type
	}
	for _, name := range domain.StructuredFields {
		typ, ok := types[name]
		if !ok {
			return fmt.Errorf("%w: missing column %s", domain.ErrModelOutputInvalid, name)
		}
		if typ != bigquery.StringFieldType {
			return fmt.Errorf("%w: column %s is %s", domain.ErrModelOutputInvalid, name, typ)
		}
	}
	return nil
}

// enrichmentSQL joins the structured table with staging and the EAN function
func enrichmentSQL(o BigQueryOptions, productID string) string {
	return fmt.Sprintf(`SELECT
  sp.product_id,
  sp.product_title,
  sp.description,
  sp.color,
  sp.material,
  sp.battery,
  sp.power,
  sp.dimensions,
  sd.image_url_1,
  %s(sp.product_title) AS ean_upc
FROM %s AS sp
JOIN %s AS sd
  ON sp.product_id = sd.product_id
WHERE sp.product_id = @product_id
LIMIT 1`, o.ref(o.EANFunction), o.ref(structuredTableName(o.StructuredPrefix, productID)), o.ref(o.StagingTable))
}

// Enrich returns the first enriched row for the product
func (w *BigQueryWarehouse) Enrich(ctx context.Context, productID string) (*domain.FinalRecord, error) {
	if err := ValidateProductID(productID); err != nil {
		return nil, err
	}

	q := w.client.Query(enrichmentSQL(w.opts, productID))
	q.Parameters = []bigquery.QueryParameter{{Name: "product_id", Value: productID}}

	it, err := q.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNoStructuredData
		}
		return nil, fmt.Errorf("enrichment query failed: %w", err)
	}

	var row enrichedRow
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, domain.ErrNoStructuredData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read enrichment row: %w", err)
	}

	return row.toFinal(), nil
}

// Discard drops the per-product structured table
func (w *BigQueryWarehouse) Discard(ctx context.Context, productID string) error {
	if err := ValidateProductID(productID); err != nil {
		return err
	}
	name := structuredTableName(w.opts.StructuredPrefix, productID)
	if err := w.client.Dataset(w.opts.Dataset).Table(name).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

func (w *BigQueryWarehouse) runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
