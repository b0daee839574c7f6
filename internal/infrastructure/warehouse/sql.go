package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
)

// SQL drivers supported by SQLWarehouse
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLOptions names the tables used on a SQL database
type SQLOptions struct {
	Driver          string
	StagingTable    string
	StructuredTable string
}

// SQLWarehouse runs the pipeline tables on Postgres or SQLite. Structuring
// calls a hosted model over HTTP and enrichment calls the EAN lookup, since
// neither database can do so from SQL.
type SQLWarehouse struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	opts   SQLOptions
	model  domain.StructuringModel
	ean    domain.EANLookup
	logger zerolog.Logger
}

// OpenSQL opens a database handle for the given warehouse type
func OpenSQL(warehouseType, dsn string) (*sql.DB, string, error) {
	driver := DriverPostgres
	if warehouseType == "sqlite" {
		driver = DriverSQLite
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s database: %w", warehouseType, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}
	return db, driver, nil
}

// NewSQLWarehouse creates a warehouse over an open database
func NewSQLWarehouse(db *sql.DB, opts SQLOptions, model domain.StructuringModel, ean domain.EANLookup, logger zerolog.Logger) (*SQLWarehouse, error) {
	if err := validateNames(sqlIdentPattern, map[string]string{
		"staging table":    opts.StagingTable,
		"structured table": opts.StructuredTable,
	}); err != nil {
		return nil, err
	}

	var placeholder sq.PlaceholderFormat
	switch opts.Driver {
	case DriverPostgres:
		placeholder = sq.Dollar
	case DriverSQLite:
		placeholder = sq.Question
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", opts.Driver)
	}

	return &SQLWarehouse{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		opts:   opts,
		model:  model,
		ean:    ean,
		logger: observability.Component(logger, "warehouse").With().Str("backend", opts.Driver).Logger(),
	}, nil
}

// Migrate creates the staging and structured tables
func (w *SQLWarehouse) Migrate(ctx context.Context) error {
	for _, stmt := range w.schemaDDL() {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	w.logger.Info().
		Str("staging_table", w.opts.StagingTable).
		Str("structured_table", w.opts.StructuredTable).
		Msg("tables ready")
	return nil
}

func (w *SQLWarehouse) schemaDDL() []string {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	if w.opts.Driver == DriverSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	structuredCols := ""
	for _, f := range domain.StructuredFields {
		structuredCols += fmt.Sprintf(",\n  %s TEXT", f)
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s,
  product_id TEXT NOT NULL,
  raw_text TEXT NOT NULL,
  image_url_1 TEXT,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, w.opts.StagingTable, idColumn),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_product_id_idx ON %s (product_id)`,
			w.opts.StagingTable, w.opts.StagingTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  product_id TEXT PRIMARY KEY%s
)`, w.opts.StructuredTable, structuredCols),
	}
}

// AppendStaging inserts one staging row; earlier rows are never touched
func (w *SQLWarehouse) AppendStaging(ctx context.Context, record domain.StagingRecord) error {
	query, args, err := w.sb.Insert(w.opts.StagingTable).
		Columns("product_id", "raw_text", "image_url_1").
		Values(record.ProductID, record.RawText, nullString(record.ImageURL1)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append staging row: %w", err)
	}

	w.logger.Info().Str("product_id", record.ProductID).Msg("staging row appended")
	return nil
}

// Structure runs the model over the latest staged text for the product and
// replaces its structured row. A reply that fails validation leaves no row.
func (w *SQLWarehouse) Structure(ctx context.Context, productID string) error {
	if err := ValidateProductID(productID); err != nil {
		return err
	}

	query, args, err := w.sb.Select("raw_text").
		From(w.opts.StagingTable).
		Where(sq.Eq{"product_id": productID}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build select: %w", err)
	}

	var rawText string
	err = w.db.QueryRowContext(ctx, query, args...).Scan(&rawText)
	if errors.Is(err, sql.ErrNoRows) {
		w.logger.Warn().Str("product_id", productID).Msg("no staged text to structure")
		return w.replaceStructured(ctx, productID, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to read staging row: %w", err)
	}

	fields, err := w.model.Structure(ctx, rawText)
	if errors.Is(err, domain.ErrModelOutputInvalid) {
		w.logger.Warn().Err(err).Str("product_id", productID).Msg("model output rejected")
		return w.replaceStructured(ctx, productID, nil)
	}
	if err != nil {
		return fmt.Errorf("structuring model failed: %w", err)
	}

	if err := w.replaceStructured(ctx, productID, fields); err != nil {
		return err
	}

	w.logger.Info().Str("product_id", productID).Msg("structuring completed")
	return nil
}

// replaceStructured deletes the product's structured row and, when fields is
// non-nil, inserts the new one in the same transaction
func (w *SQLWarehouse) replaceStructured(ctx context.Context, productID string, fields map[string]string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := w.sb.Delete(w.opts.StructuredTable).Where(sq.Eq{"product_id": productID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear structured row: %w", err)
	}

	if fields != nil {
		columns := append([]string{"product_id"}, domain.StructuredFields...)
		values := []interface{}{productID}
		for _, f := range domain.StructuredFields {
			values = append(values, nullString(fields[f]))
		}

		query, args, err = w.sb.Insert(w.opts.StructuredTable).Columns(columns...).Values(values...).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to write structured row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit structured row: %w", err)
	}
	return nil
}

// Enrich joins the structured row with the latest staged image URL and looks up the EAN
func (w *SQLWarehouse) Enrich(ctx context.Context, productID string) (*domain.FinalRecord, error) {
	if err := ValidateProductID(productID); err != nil {
		return nil, err
	}

	columns := []string{"sp.product_id"}
	for _, f := range domain.StructuredFields {
		columns = append(columns, "sp."+f)
	}
	columns = append(columns, "sd.image_url_1")

	query, args, err := w.sb.Select(columns...).
		From(w.opts.StructuredTable + " AS sp").
		Join(w.opts.StagingTable + " AS sd ON sp.product_id = sd.product_id").
		Where(sq.Eq{"sp.product_id": productID}).
		OrderBy("sd.id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build enrichment query: %w", err)
	}

	// product_id, the structured fields, then image_url_1
	var id string
	cols := make([]sql.NullString, len(domain.StructuredFields)+1)
	dest := []interface{}{&id}
	for i := range cols {
		dest = append(dest, &cols[i])
	}

	err = w.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoStructuredData
	}
	if err != nil {
		return nil, fmt.Errorf("enrichment query failed: %w", err)
	}

	fields := make(map[string]string, len(domain.StructuredFields))
	for i, f := range domain.StructuredFields {
		fields[f] = cols[i].String
	}
	imageURL := cols[len(cols)-1].String

	replies, err := w.ean.Lookup(ctx, []string{fields["product_title"]})
	if err != nil {
		return nil, fmt.Errorf("EAN lookup failed: %w", err)
	}
	if len(replies) != 1 {
		return nil, fmt.Errorf("%w: expected 1 reply, got %d", domain.ErrRemoteFunction, len(replies))
	}

	return domain.NewFinalRecord(domain.StructuredFromFields(id, fields), imageURL, replies[0]), nil
}

// Discard is a no-op: structured rows are keyed by product and replaced in place
func (w *SQLWarehouse) Discard(ctx context.Context, productID string) error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
