package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libretto/internal/core"
	"libretto/internal/date"
)

// CreateBudget inserts the budget, assigning its id and uuid. The first
// budget period, if any, is created explicitly by the budget service.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, b *core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	now := time.Now().UTC()
	b.Created = now
	b.Modified = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (uuid, name, active, amount, currency, auto_budget, auto_budget_period, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UUID.String(), b.Name, b.Active, b.Amount.Amount.String(), b.Amount.Currency,
		string(b.Mode), string(b.Periodicity), b.Created, b.Modified)
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("budget insert id: %w", err)
	}

	slog.InfoContext(ctx, "Budget created", "uuid", b.UUID, "name", b.Name, "mode", b.Mode)
	return nil
}

const budgetColumns = `id, uuid, name, active, amount, currency, auto_budget, auto_budget_period, created_at, modified_at`

func scanBudget(row interface{ Scan(...any) error }) (*core.Budget, error) {
	var (
		b           core.Budget
		uuidStr     string
		amount      string
		mode        string
		periodicity string
	)
	err := row.Scan(&b.ID, &uuidStr, &b.Name, &b.Active, &amount, &b.Amount.Currency,
		&mode, &periodicity, &b.Created, &b.Modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("budget: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan budget: %w", err)
	}
	if b.UUID, err = uuid.Parse(uuidStr); err != nil {
		return nil, fmt.Errorf("parse budget uuid: %w", err)
	}
	if b.Amount.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	b.Mode = core.AutoBudgetMode(mode)
	b.Periodicity = date.Periodicity(periodicity)
	return &b, nil
}

// GetBudget fetches a budget by id.
func (r *SQLiteRepository) GetBudget(ctx context.Context, id int64) (*core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	return scanBudget(row)
}

// UpdateBudget persists changes to a budget's mutable fields.
func (r *SQLiteRepository) UpdateBudget(ctx context.Context, b *core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	b.Modified = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE budgets SET name = ?, active = ?, amount = ?, currency = ?,
			auto_budget = ?, auto_budget_period = ?, modified_at = ?
		WHERE id = ?`,
		b.Name, b.Active, b.Amount.Amount.String(), b.Amount.Currency,
		string(b.Mode), string(b.Periodicity), b.Modified, b.ID)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget %d: %w", b.ID, core.ErrNotFound)
	}
	return nil
}

// ListActiveAutoBudgets returns active budgets with auto-budgeting enabled,
// the set a rollover tick considers.
func (r *SQLiteRepository) ListActiveAutoBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE active = 1 AND auto_budget != 'none' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list auto budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, *b)
	}
	return budgets, rows.Err()
}

// CreatePeriod inserts a budget period. A duplicate (budget_id, start_date)
// surfaces as a ConflictError, meaning someone else already rolled this
// period.
func (r *SQLiteRepository) CreatePeriod(ctx context.Context, p *core.BudgetPeriod) error {
	now := time.Now().UTC()
	p.Created = now
	p.Modified = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO budget_periods (budget_id, start_date, end_date, amount, currency, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.BudgetID, p.Range.Start.String(), p.Range.End.String(),
		p.Amount.Amount.String(), p.Amount.Currency, p.Created, p.Modified)
	if err != nil {
		if isUniqueViolation(err) {
			return &core.ConflictError{
				Resource: "budget period",
				Key:      fmt.Sprintf("budget %d start %s", p.BudgetID, p.Range.Start),
			}
		}
		return fmt.Errorf("insert budget period: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("budget period insert id: %w", err)
	}

	slog.InfoContext(ctx, "Budget period created",
		"budget_id", p.BudgetID,
		"range", p.Range.String(),
		"amount", p.Amount.String())
	return nil
}

// UpdatePeriod persists changes to a period's range or amount.
func (r *SQLiteRepository) UpdatePeriod(ctx context.Context, p *core.BudgetPeriod) error {
	p.Modified = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE budget_periods SET start_date = ?, end_date = ?, amount = ?, currency = ?, modified_at = ?
		WHERE id = ?`,
		p.Range.Start.String(), p.Range.End.String(),
		p.Amount.Amount.String(), p.Amount.Currency, p.Modified, p.ID)
	if err != nil {
		return fmt.Errorf("update budget period: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget period %d: %w", p.ID, core.ErrNotFound)
	}
	return nil
}

const periodColumns = `id, budget_id, start_date, end_date, amount, currency, created_at, modified_at`

func scanPeriod(row interface{ Scan(...any) error }) (*core.BudgetPeriod, error) {
	var (
		p        core.BudgetPeriod
		startStr string
		endStr   string
		amount   string
	)
	err := row.Scan(&p.ID, &p.BudgetID, &startStr, &endStr, &amount, &p.Amount.Currency,
		&p.Created, &p.Modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("budget period: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan budget period: %w", err)
	}
	if p.Range.Start, err = date.Parse(startStr); err != nil {
		return nil, fmt.Errorf("parse period start: %w", err)
	}
	if p.Range.End, err = date.Parse(endStr); err != nil {
		return nil, fmt.Errorf("parse period end: %w", err)
	}
	if p.Amount.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPeriod fetches a budget period by id.
func (r *SQLiteRepository) GetPeriod(ctx context.Context, id int64) (*core.BudgetPeriod, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM budget_periods WHERE id = ?`, id)
	return scanPeriod(row)
}

// PeriodForDate returns the budget's period containing the date, or
// ErrNotFound when the date falls in no period.
func (r *SQLiteRepository) PeriodForDate(ctx context.Context, budgetID int64, d date.Date) (*core.BudgetPeriod, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+periodColumns+` FROM budget_periods
		WHERE budget_id = ? AND start_date <= ? AND end_date >= ?`,
		budgetID, d.String(), d.String())
	return scanPeriod(row)
}

// LatestPeriod returns the budget's most recent period by start date, or
// ErrNotFound when the budget has no periods.
func (r *SQLiteRepository) LatestPeriod(ctx context.Context, budgetID int64) (*core.BudgetPeriod, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+periodColumns+` FROM budget_periods
		WHERE budget_id = ? ORDER BY start_date DESC LIMIT 1`, budgetID)
	return scanPeriod(row)
}

// PeriodUsed returns the spend charged against the period as a positive
// magnitude: the absolute sum of source-side legs of withdrawal and transfer
// entries linked to the period, counting only legs in the period's currency.
// Cross-currency legs are ignored; the period and its budget are
// single-currency.
func (r *SQLiteRepository) PeriodUsed(ctx context.Context, periodID int64, currency string) (decimal.Decimal, error) {
	total, err := r.sumAmounts(ctx, `
		SELECT l.amount FROM transaction_legs l
		JOIN ledger_entries e ON e.id = l.entry_id
		WHERE e.budget_period_id = ?
		  AND e.transaction_type IN ('withdrawal', 'transfer')
		  AND l.currency = ?
		  AND CAST(l.amount AS REAL) < 0`,
		periodID, currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return total.Neg(), nil
}
