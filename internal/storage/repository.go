// Package storage persists the ledger in SQLite. Every multi-row write runs
// inside a single transaction so partial leg writes can never be observed.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libretto/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the relational store behind the ledger and budget
// services.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness-constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse stored decimal %q: %w", s, err)
	}
	return d, nil
}

// CreateAccount inserts the account, assigning its id, uuid and a unique
// slug derived from the name.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a *core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	now := time.Now().UTC()
	a.Created = now
	a.Modified = now

	base := core.Slugify(a.Name)
	if base == "" {
		base = "account"
	}

	// Resolve slug collisions with a numeric suffix, as unique_slugify does.
	slug := base
	for attempt := 2; ; attempt++ {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO accounts (uuid, name, slug, kind, currency, active, include_net_worth,
				iban, account_number, virtual_balance, created_at, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.UUID.String(), a.Name, slug, string(a.Kind), a.Currency, a.Active, a.IncludeInNetWorth,
			a.IBAN, a.AccountNumber, a.VirtualBalance.String(), a.Created, a.Modified)
		if err == nil {
			a.Slug = slug
			a.ID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("account insert id: %w", err)
			}
			slog.InfoContext(ctx, "Account created", "uuid", a.UUID, "slug", a.Slug, "kind", a.Kind)
			return nil
		}
		if !isUniqueViolation(err) || attempt > 100 {
			return fmt.Errorf("insert account: %w", err)
		}
		slug = fmt.Sprintf("%s-%d", base, attempt)
	}
}

const accountColumns = `id, uuid, name, slug, kind, currency, active, include_net_worth,
	iban, account_number, virtual_balance, created_at, modified_at`

func scanAccount(row interface{ Scan(...any) error }) (*core.Account, error) {
	var (
		a              core.Account
		uuidStr        string
		kind           string
		virtualBalance string
	)
	err := row.Scan(&a.ID, &uuidStr, &a.Name, &a.Slug, &kind, &a.Currency, &a.Active,
		&a.IncludeInNetWorth, &a.IBAN, &a.AccountNumber, &virtualBalance, &a.Created, &a.Modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if a.UUID, err = uuid.Parse(uuidStr); err != nil {
		return nil, fmt.Errorf("parse account uuid: %w", err)
	}
	a.Kind = core.AccountKind(kind)
	if a.VirtualBalance, err = parseDecimal(virtualBalance); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount fetches an account by id.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountBySlug fetches an account by its unique slug.
func (r *SQLiteRepository) GetAccountBySlug(ctx context.Context, slug string) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE slug = ?`, slug)
	return scanAccount(row)
}

// ListAccounts returns accounts ordered by name, optionally restricted to
// active ones.
func (r *SQLiteRepository) ListAccounts(ctx context.Context, onlyActive bool) ([]core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if onlyActive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccount persists changes to an account's mutable fields.
func (r *SQLiteRepository) UpdateAccount(ctx context.Context, a *core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.Modified = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET name = ?, kind = ?, currency = ?, active = ?, include_net_worth = ?,
			iban = ?, account_number = ?, virtual_balance = ?, modified_at = ?
		WHERE id = ?`,
		a.Name, string(a.Kind), a.Currency, a.Active, a.IncludeInNetWorth,
		a.IBAN, a.AccountNumber, a.VirtualBalance.String(), a.Modified, a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", a.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteAccount removes the account and its legs. Journal entries left with
// zero legs afterwards are purged by the periodic consistency sweep, not
// inline, to avoid surprising cross-entity deletes.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id int64) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_legs WHERE account_id = ?`, id); err != nil {
			return fmt.Errorf("delete account legs: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d: %w", id, core.ErrNotFound)
		}
		slog.InfoContext(ctx, "Account deleted", "id", id)
		return nil
	})
}

// EnsureCategory returns the id of the named category, creating it if absent.
func (r *SQLiteRepository) EnsureCategory(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("category name cannot be empty")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup category: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name, created_at, modified_at) VALUES (?, ?, ?)`, name, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a create race; the row exists now.
			if err := r.db.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, name).Scan(&id); err == nil {
				return id, nil
			}
		}
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return res.LastInsertId()
}
