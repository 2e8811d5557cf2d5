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

// CreateEntry writes the journal entry, its legs and its tags atomically:
// either all rows land or none do. A violation of the one-opening-leg-per-
// account index surfaces as a ConflictError for the service to retry as an
// update.
func (r *SQLiteRepository) CreateEntry(ctx context.Context, e *core.JournalEntry) error {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	now := time.Now().UTC()
	e.Created = now
	e.Modified = now

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (uuid, entry_date, description, transaction_type,
				amount, currency, category_id, budget_period_id, created_at, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.UUID.String(), e.Date.String(), e.Description, string(e.Type),
			e.Amount.Amount.String(), e.Amount.Currency, e.CategoryID, e.BudgetPeriodID,
			e.Created, e.Modified)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("entry insert id: %w", err)
		}
		if err := insertLegs(ctx, tx, e); err != nil {
			return err
		}
		return replaceTags(ctx, tx, e.ID, e.Tags)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return &core.ConflictError{Resource: "opening balance leg", Key: e.UUID.String()}
		}
		return err
	}

	slog.InfoContext(ctx, "Journal entry created",
		"uuid", e.UUID,
		"type", e.Type,
		"amount", e.Amount.String(),
		"legs", len(e.Legs))
	return nil
}

func insertLegs(ctx context.Context, tx *sql.Tx, e *core.JournalEntry) error {
	for i := range e.Legs {
		leg := &e.Legs[i]
		if leg.UUID == uuid.Nil {
			leg.UUID = uuid.New()
		}
		leg.EntryID = e.ID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transaction_legs (uuid, entry_id, account_id, amount, currency, reconciled, opening)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			leg.UUID.String(), leg.EntryID, leg.AccountID,
			leg.Amount.Amount.String(), leg.Amount.Currency, leg.Reconciled, leg.Opening)
		if err != nil {
			return fmt.Errorf("insert leg: %w", err)
		}
		if leg.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("leg insert id: %w", err)
		}
	}
	return nil
}

func replaceTags(ctx context.Context, tx *sql.Tx, entryID int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("clear entry tags: %w", err)
	}
	for _, tag := range tags {
		var tagID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, tag).Scan(&tagID)
		if err == sql.ErrNoRows {
			res, err := tx.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?)`, tag)
			if err != nil {
				return fmt.Errorf("insert tag: %w", err)
			}
			if tagID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("tag insert id: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("lookup tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entry_tags (entry_id, tag_id) VALUES (?, ?)`, entryID, tagID); err != nil {
			return fmt.Errorf("link tag: %w", err)
		}
	}
	return nil
}

// GetEntry fetches a journal entry with its legs and tags by external id.
func (r *SQLiteRepository) GetEntry(ctx context.Context, id uuid.UUID) (*core.JournalEntry, error) {
	return r.getEntry(ctx, `uuid = ?`, id.String())
}

func (r *SQLiteRepository) getEntryByID(ctx context.Context, id int64) (*core.JournalEntry, error) {
	return r.getEntry(ctx, `id = ?`, id)
}

func (r *SQLiteRepository) getEntry(ctx context.Context, where string, arg any) (*core.JournalEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, uuid, entry_date, description, transaction_type, amount, currency,
			category_id, budget_period_id, created_at, modified_at
		FROM ledger_entries WHERE `+where, arg)

	var (
		e              core.JournalEntry
		uuidStr        string
		dateStr        string
		typ            string
		amount         string
		categoryID     sql.NullInt64
		budgetPeriodID sql.NullInt64
	)
	err := row.Scan(&e.ID, &uuidStr, &dateStr, &e.Description, &typ, &amount, &e.Amount.Currency,
		&categoryID, &budgetPeriodID, &e.Created, &e.Modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journal entry: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	if e.UUID, err = uuid.Parse(uuidStr); err != nil {
		return nil, fmt.Errorf("parse entry uuid: %w", err)
	}
	if e.Date, err = date.Parse(dateStr); err != nil {
		return nil, fmt.Errorf("parse entry date: %w", err)
	}
	e.Type = core.TransactionType(typ)
	if e.Amount.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		e.CategoryID = &categoryID.Int64
	}
	if budgetPeriodID.Valid {
		e.BudgetPeriodID = &budgetPeriodID.Int64
	}

	if e.Legs, err = r.entryLegs(ctx, e.ID); err != nil {
		return nil, err
	}
	if e.Tags, err = r.entryTags(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *SQLiteRepository) entryLegs(ctx context.Context, entryID int64) ([]core.TransactionLeg, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, uuid, entry_id, account_id, amount, currency, reconciled, opening
		FROM transaction_legs WHERE entry_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query legs: %w", err)
	}
	defer rows.Close()

	var legs []core.TransactionLeg
	for rows.Next() {
		var (
			leg     core.TransactionLeg
			uuidStr string
			amount  string
		)
		if err := rows.Scan(&leg.ID, &uuidStr, &leg.EntryID, &leg.AccountID,
			&amount, &leg.Amount.Currency, &leg.Reconciled, &leg.Opening); err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		if leg.UUID, err = uuid.Parse(uuidStr); err != nil {
			return nil, fmt.Errorf("parse leg uuid: %w", err)
		}
		if leg.Amount.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

func (r *SQLiteRepository) entryTags(ctx context.Context, entryID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN entry_tags et ON et.tag_id = t.id
		WHERE et.entry_id = ? ORDER BY t.name`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// UpdateEntryScalars updates an entry's scalar fields and tags without
// touching its legs. Reconciled flags on legs survive this path untouched.
func (r *SQLiteRepository) UpdateEntryScalars(ctx context.Context, e *core.JournalEntry) error {
	e.Modified = time.Now().UTC()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE ledger_entries
			SET entry_date = ?, description = ?, category_id = ?, budget_period_id = ?, modified_at = ?
			WHERE id = ?`,
			e.Date.String(), e.Description, e.CategoryID, e.BudgetPeriodID, e.Modified, e.ID)
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("journal entry %d: %w", e.ID, core.ErrNotFound)
		}
		return replaceTags(ctx, tx, e.ID, e.Tags)
	})
}

// ReplaceEntry rewrites the entry's fields and replaces all its legs in one
// transaction. Used when amount, type or accounts changed and the legs must
// be recreated.
func (r *SQLiteRepository) ReplaceEntry(ctx context.Context, e *core.JournalEntry) error {
	e.Modified = time.Now().UTC()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE ledger_entries
			SET entry_date = ?, description = ?, transaction_type = ?, amount = ?, currency = ?,
				category_id = ?, budget_period_id = ?, modified_at = ?
			WHERE id = ?`,
			e.Date.String(), e.Description, string(e.Type),
			e.Amount.Amount.String(), e.Amount.Currency,
			e.CategoryID, e.BudgetPeriodID, e.Modified, e.ID)
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("journal entry %d: %w", e.ID, core.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_legs WHERE entry_id = ?`, e.ID); err != nil {
			return fmt.Errorf("delete old legs: %w", err)
		}
		if err := insertLegs(ctx, tx, e); err != nil {
			return err
		}
		return replaceTags(ctx, tx, e.ID, e.Tags)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return &core.ConflictError{Resource: "opening balance leg", Key: e.UUID.String()}
		}
		return err
	}

	slog.InfoContext(ctx, "Journal entry legs replaced", "uuid", e.UUID, "legs", len(e.Legs))
	return nil
}

// DeleteEntry removes the entry; its legs and tag links cascade.
func (r *SQLiteRepository) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE uuid = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal entry %s: %w", id, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Journal entry deleted", "uuid", id)
	return nil
}

// PurgeHangingEntries deletes journal entries left with zero legs, typically
// after an account deletion cleared their last leg. Safe to run repeatedly.
func (r *SQLiteRepository) PurgeHangingEntries(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ledger_entries
		WHERE id NOT IN (SELECT DISTINCT entry_id FROM transaction_legs)`)
	if err != nil {
		return 0, fmt.Errorf("purge hanging entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Purged hanging journal entries", "count", n)
	}
	return n, nil
}

// OpeningEntry returns the opening-balance entry for an account, if any.
func (r *SQLiteRepository) OpeningEntry(ctx context.Context, accountID int64) (*core.JournalEntry, error) {
	var entryID int64
	err := r.db.QueryRowContext(ctx, `
		SELECT entry_id FROM transaction_legs WHERE account_id = ? AND opening = 1`, accountID).Scan(&entryID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("opening balance for account %d: %w", accountID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup opening leg: %w", err)
	}
	return r.getEntryByID(ctx, entryID)
}

// sumAmounts folds a single-column result set of decimal strings. Decimal
// arithmetic happens in Go; SQL SUM over text would silently go through
// floats.
func (r *SQLiteRepository) sumAmounts(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("query leg amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Decimal{}, fmt.Errorf("scan leg amount: %w", err)
		}
		d, err := parseDecimal(amount)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// SumLegsUntil returns the raw sum of the account's leg amounts dated on or
// before the given date. Zero when no legs exist.
func (r *SQLiteRepository) SumLegsUntil(ctx context.Context, accountID int64, until date.Date) (decimal.Decimal, error) {
	return r.sumAmounts(ctx, `
		SELECT l.amount FROM transaction_legs l
		JOIN ledger_entries e ON e.id = l.entry_id
		WHERE l.account_id = ? AND e.entry_date <= ?`,
		accountID, until.String())
}

// SumLegsInRange returns the sum of the account's positive (negative=false)
// or negative (negative=true) legs dated inside the range. Zero when none.
func (r *SQLiteRepository) SumLegsInRange(ctx context.Context, accountID int64, rng date.Range, negative bool) (decimal.Decimal, error) {
	sign := `CAST(l.amount AS REAL) > 0`
	if negative {
		sign = `CAST(l.amount AS REAL) < 0`
	}
	return r.sumAmounts(ctx, `
		SELECT l.amount FROM transaction_legs l
		JOIN ledger_entries e ON e.id = l.entry_id
		WHERE l.account_id = ? AND e.entry_date >= ? AND e.entry_date <= ? AND `+sign,
		accountID, rng.Start.String(), rng.End.String())
}
