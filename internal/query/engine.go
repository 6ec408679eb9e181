// Package query implements the record query engine: declarative
// filter/sort/limit evaluation over a fixed analytics-record schema, backed
// by an in-memory SQLite database.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

// InvalidQueryError reports an expression that falls outside the supported
// schema or dialect. Violations fail; they are never silently ignored.
type InvalidQueryError struct {
	Expr   string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query %q: %s", e.Expr, e.Reason)
}

// recordColumns is the fixed schema, in SELECT order.
var recordColumns = []string{
	"document_id",
	"document_type",
	"version",
	"created_by",
	"opens",
	"interactions",
	"publishes",
	"unique_users",
	"opens_percentile",
	"interactions_percentile",
	"first_activity",
	"last_activity",
	"last_opened",
	"last_interacted",
	"last_published",
}

// keywords allowed in expressions beyond column names.
var keywords = map[string]bool{
	"where": true, "and": true, "or": true, "not": true,
	"order": true, "by": true, "asc": true, "desc": true,
	"limit": true, "like": true, "in": true, "is": true,
	"null": true, "between": true,
}

const schemaSQL = `CREATE TABLE records (
	document_id TEXT,
	document_type TEXT,
	version TEXT,
	created_by TEXT,
	opens INTEGER,
	interactions INTEGER,
	publishes INTEGER,
	unique_users INTEGER,
	opens_percentile REAL,
	interactions_percentile REAL,
	first_activity TEXT,
	last_activity TEXT,
	last_opened TEXT,
	last_interacted TEXT,
	last_published TEXT
)`

// Engine evaluates declarative expressions over analytics records.
type Engine struct {
	log *zap.Logger
}

// NewEngine returns a record query engine.
func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log}
}

// Query loads the records into a fresh in-memory table and evaluates the
// expression against it. The dialect is a SELECT tail:
//
//	[WHERE] <condition> [ORDER BY <column> [ASC|DESC]] [LIMIT <n>]
//
// Every identifier in the expression must name a schema column; anything
// else fails with *InvalidQueryError. An empty expression returns the
// records unchanged.
func (e *Engine) Query(ctx context.Context, records []model.AnalyticsRecord, expr string) ([]model.AnalyticsRecord, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		out := make([]model.AnalyticsRecord, len(records))
		copy(out, records)
		return out, nil
	}

	if err := validateExpr(expr); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open query engine: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create record schema: %w", err)
	}

	insert := "INSERT INTO records VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ") + ")"
	stmt, err := db.PrepareContext(ctx, insert)
	if err != nil {
		return nil, fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.DocumentID, r.DocumentType, r.Version, r.CreatedBy,
			r.Opens, r.Interactions, r.Publishes, r.UniqueUsers,
			r.OpensPercentile, r.InteractionsPercentile,
			r.FirstActivity, r.LastActivity, r.LastOpened, r.LastInteracted, r.LastPublished)
		if err != nil {
			return nil, fmt.Errorf("load record: %w", err)
		}
	}

	stmtSQL := "SELECT " + strings.Join(recordColumns, ", ") + " FROM records " + normalizeExpr(expr)
	rows, err := db.QueryContext(ctx, stmtSQL)
	if err != nil {
		return nil, &InvalidQueryError{Expr: expr, Reason: err.Error()}
	}
	defer rows.Close()

	results := make([]model.AnalyticsRecord, 0)
	for rows.Next() {
		var r model.AnalyticsRecord
		err := rows.Scan(
			&r.DocumentID, &r.DocumentType, &r.Version, &r.CreatedBy,
			&r.Opens, &r.Interactions, &r.Publishes, &r.UniqueUsers,
			&r.OpensPercentile, &r.InteractionsPercentile,
			&r.FirstActivity, &r.LastActivity, &r.LastOpened, &r.LastInteracted, &r.LastPublished)
		if err != nil {
			return nil, fmt.Errorf("scan query result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query results: %w", err)
	}

	e.log.Debug("record query evaluated",
		zap.Int("input", len(records)),
		zap.Int("output", len(results)))
	return results, nil
}

// normalizeExpr prefixes a bare condition with WHERE so callers can pass
// either "opens > 10" or "WHERE opens > 10".
func normalizeExpr(expr string) string {
	upper := strings.ToUpper(expr)
	if strings.HasPrefix(upper, "WHERE") ||
		strings.HasPrefix(upper, "ORDER") ||
		strings.HasPrefix(upper, "LIMIT") {
		return expr
	}
	return "WHERE " + expr
}

// validateExpr checks every identifier in the expression against the schema
// and keyword set before the expression is handed to SQLite.
func validateExpr(expr string) error {
	columns := make(map[string]bool, len(recordColumns))
	for _, c := range recordColumns {
		columns[c] = true
	}

	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			// String literal: skip to the closing quote.
			quote := r
			i++
			for i < len(runes) && runes[i] != quote {
				i++
			}
			if i == len(runes) {
				return &InvalidQueryError{Expr: expr, Reason: "unterminated string literal"}
			}
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := strings.ToLower(string(runes[start:i]))
			if !columns[word] && !keywords[word] {
				return &InvalidQueryError{Expr: expr, Reason: fmt.Sprintf("unknown identifier %q", word)}
			}
		case unicode.IsDigit(r) || strings.ContainsRune("<>=!()+-*/%,. \t\n", r):
			i++
		default:
			return &InvalidQueryError{Expr: expr, Reason: fmt.Sprintf("unsupported character %q", string(r))}
		}
	}
	return nil
}
