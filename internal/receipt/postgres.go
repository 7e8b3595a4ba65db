package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zombor/receipt-scan/internal/suggest"
)

// PostgresHistory reads suggestion history from an existing expense
// database. It never writes.
//
// Expected tables:
//
//	expenses(id, scope, merchant, occurred_at, created_at, category_id)
//	expense_line_items(expense_id, description, category_id, suggested_category_id, category_confidence)
type PostgresHistory struct {
	pool *pgxpool.Pool
}

var _ suggest.HistoryReader = (*PostgresHistory)(nil)

// NewPostgresHistory connects to dsn and checks the connection.
func NewPostgresHistory(ctx context.Context, dsn string) (*PostgresHistory, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresHistory{pool: pool}, nil
}

func windowExpensesQuery(scope string, since time.Time) squirrel.SelectBuilder {
	return squirrel.Select("id", "occurred_at", "COALESCE(created_at, occurred_at)", "COALESCE(merchant, '')", "COALESCE(category_id, '')").
		From("expenses").
		Where(squirrel.Eq{"scope": scope}).
		Where(squirrel.GtOrEq{"occurred_at": since}).
		OrderBy("occurred_at DESC").
		PlaceholderFormat(squirrel.Dollar)
}

func windowLineItemsQuery(scope string, since time.Time) squirrel.SelectBuilder {
	return squirrel.Select(
		"li.expense_id",
		"li.description",
		"COALESCE(li.category_id, '')",
		"COALESCE(li.suggested_category_id, '')",
		"COALESCE(li.category_confidence, 0)::float8",
	).
		From("expense_line_items li").
		Join("expenses e ON e.id = li.expense_id").
		Where(squirrel.Eq{"e.scope": scope}).
		Where(squirrel.GtOrEq{"e.occurred_at": since}).
		PlaceholderFormat(squirrel.Dollar)
}

// Window implements suggest.HistoryReader.
func (p *PostgresHistory) Window(ctx context.Context, scope string, since time.Time) (suggest.History, error) {
	var h suggest.History

	sql, args, err := windowExpensesQuery(scope, since).ToSql()
	if err != nil {
		return h, fmt.Errorf("building expenses query: %w", err)
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return h, fmt.Errorf("querying expenses: %w", err)
	}
	for rows.Next() {
		var e suggest.Expense
		if err := rows.Scan(&e.ID, &e.Date, &e.RecordedAt, &e.Merchant, &e.CategoryID); err != nil {
			rows.Close()
			return h, fmt.Errorf("scanning expense: %w", err)
		}
		h.Expenses = append(h.Expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return h, fmt.Errorf("reading expenses: %w", err)
	}

	sql, args, err = windowLineItemsQuery(scope, since).ToSql()
	if err != nil {
		return h, fmt.Errorf("building line items query: %w", err)
	}
	rows, err = p.pool.Query(ctx, sql, args...)
	if err != nil {
		return h, fmt.Errorf("querying line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var li suggest.LineItem
		if err := rows.Scan(&li.ExpenseID, &li.Description, &li.CategoryID, &li.SuggestedCategoryID, &li.CategoryConfidence); err != nil {
			return h, fmt.Errorf("scanning line item: %w", err)
		}
		h.LineItems = append(h.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return h, fmt.Errorf("reading line items: %w", err)
	}
	return h, nil
}

// Close closes the pool.
func (p *PostgresHistory) Close() {
	p.pool.Close()
}
