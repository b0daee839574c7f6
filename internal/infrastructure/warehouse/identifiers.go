// Package warehouse implements the staging, structuring and enrichment tables
// on BigQuery or on a SQL database.
package warehouse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sheetlens/backend/internal/domain"
)

var (
	// BigQuery project, dataset, table, model and function names
	bqIdentPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	// Connection references (project.location.connection) and model endpoints
	bqDottedPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)
	// Unquoted SQL table names
	sqlIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// Product identifiers end up in table names
	productIDPattern = regexp.MustCompile(`^[A-Za-z0-9\-]+$`)
)

// outputSchema is the AI.GENERATE_TABLE column declaration for StructuredFields
var outputSchema = func() string {
	cols := make([]string, len(domain.StructuredFields))
	for i, f := range domain.StructuredFields {
		cols[i] = f + " STRING"
	}
	return strings.Join(cols, ", ")
}()

func validateNames(pattern *regexp.Regexp, names map[string]string) error {
	for kind, name := range names {
		if !pattern.MatchString(name) {
			return fmt.Errorf("%w: %s %q", domain.ErrInvalidIdentifier, kind, name)
		}
	}
	return nil
}

// ValidateProductID rejects identifiers that could not safely name a table
func ValidateProductID(id string) error {
	if !productIDPattern.MatchString(id) {
		return fmt.Errorf("%w: product id %q", domain.ErrInvalidIdentifier, id)
	}
	return nil
}

// structuredTableName is the per-product destination of a structuring run
func structuredTableName(prefix, productID string) string {
	return prefix + "_" + strings.ReplaceAll(productID, "-", "_")
}

// validateEndpointURL checks a URL that is embedded as a DDL string literal
func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: endpoint url %q", domain.ErrInvalidIdentifier, raw)
	}
	if strings.ContainsAny(raw, "'\\\n") {
		return fmt.Errorf("%w: endpoint url %q", domain.ErrInvalidIdentifier, raw)
	}
	return nil
}
