package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"libretto/internal/core"
	"libretto/internal/date"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo *SQLiteRepository, name string, kind core.AccountKind, currency string) *core.Account {
	t.Helper()
	a := &core.Account{Name: name, Kind: kind, Currency: currency, Active: true}
	if err := repo.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount(%q) error = %v", name, err)
	}
	return a
}

func seedEntry(t *testing.T, repo *SQLiteRepository, e *core.JournalEntry) *core.JournalEntry {
	t.Helper()
	if err := repo.CreateEntry(context.Background(), e); err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	return e
}

func TestCreateAccountAssignsUniqueSlug(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := seedAccount(t, repo, "Main Checking", core.KindAsset, "EUR")
	second := seedAccount(t, repo, "Main Checking", core.KindAsset, "EUR")

	if first.Slug != "main-checking" {
		t.Errorf("first slug = %q, want %q", first.Slug, "main-checking")
	}
	if second.Slug != "main-checking-2" {
		t.Errorf("second slug = %q, want %q", second.Slug, "main-checking-2")
	}

	got, err := repo.GetAccountBySlug(ctx, "main-checking-2")
	if err != nil {
		t.Fatalf("GetAccountBySlug() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("GetAccountBySlug() id = %d, want %d", got.ID, second.ID)
	}
}

func TestAccountLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := seedAccount(t, repo, "Savings", core.KindAsset, "EUR")

	a.Name = "Emergency Fund"
	a.Active = false
	if err := repo.UpdateAccount(ctx, a); err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}

	got, err := repo.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Name != "Emergency Fund" || got.Active {
		t.Errorf("GetAccount() = {Name: %q, Active: %t}, want updated values", got.Name, got.Active)
	}

	active, err := repo.ListAccounts(ctx, true)
	if err != nil {
		t.Fatalf("ListAccounts(active) error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListAccounts(active) returned %d accounts, want 0", len(active))
	}

	if err := repo.DeleteAccount(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := repo.GetAccount(ctx, a.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAccount() after delete error = %v, want ErrNotFound", err)
	}
}

func TestCreateEntryWritesLegsAndTags(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	checking := seedAccount(t, repo, "Checking", core.KindAsset, "EUR")
	groceries := seedAccount(t, repo, "Groceries", core.KindExpense, "EUR")

	e := seedEntry(t, repo, &core.JournalEntry{
		Date:        date.MustParse("2025-03-10"),
		Description: "Weekly groceries",
		Type:        core.TypeWithdrawal,
		Amount:      core.MustMoney("42.50", "EUR"),
		Tags:        []string{"food", "weekly"},
		Legs: []core.TransactionLeg{
			{AccountID: checking.ID, Amount: core.MustMoney("-42.50", "EUR")},
			{AccountID: groceries.ID, Amount: core.MustMoney("42.50", "EUR")},
		},
	})

	got, err := repo.GetEntry(ctx, e.UUID)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if len(got.Legs) != 2 {
		t.Fatalf("GetEntry() legs = %d, want 2", len(got.Legs))
	}
	if src := got.SourceLeg(); src == nil || src.AccountID != checking.ID {
		t.Errorf("SourceLeg() = %+v, want checking account", src)
	}
	if dst := got.DestinationLeg(); dst == nil || dst.AccountID != groceries.ID {
		t.Errorf("DestinationLeg() = %+v, want groceries account", dst)
	}
	if len(got.Tags) != 2 {
		t.Errorf("GetEntry() tags = %v, want 2 tags", got.Tags)
	}

	if err := repo.DeleteEntry(ctx, e.UUID); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}
	if _, err := repo.GetEntry(ctx, e.UUID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetEntry() after delete error = %v, want ErrNotFound", err)
	}
}

func TestOpeningLegUniquePerAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := seedAccount(t, repo, "Checking", core.KindAsset, "EUR")

	first := seedEntry(t, repo, &core.JournalEntry{
		Date:        date.MustParse("2025-01-01"),
		Description: "Opening balance",
		Type:        core.TypeOpeningBalance,
		Amount:      core.MustMoney("100", "EUR"),
		Legs: []core.TransactionLeg{
			{AccountID: a.ID, Amount: core.MustMoney("100", "EUR"), Opening: true},
		},
	})

	dup := &core.JournalEntry{
		Date:        date.MustParse("2025-01-02"),
		Description: "Opening balance again",
		Type:        core.TypeOpeningBalance,
		Amount:      core.MustMoney("200", "EUR"),
		Legs: []core.TransactionLeg{
			{AccountID: a.ID, Amount: core.MustMoney("200", "EUR"), Opening: true},
		},
	}
	err := repo.CreateEntry(ctx, dup)
	if !core.IsConflict(err) {
		t.Fatalf("CreateEntry(duplicate opening) error = %v, want ConflictError", err)
	}

	// The losing write must leave nothing behind.
	if _, err := repo.GetEntry(ctx, dup.UUID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetEntry(losing entry) error = %v, want ErrNotFound", err)
	}

	got, err := repo.OpeningEntry(ctx, a.ID)
	if err != nil {
		t.Fatalf("OpeningEntry() error = %v", err)
	}
	if got.UUID != first.UUID {
		t.Errorf("OpeningEntry() uuid = %s, want %s", got.UUID, first.UUID)
	}
}

func TestPurgeHangingEntries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doomed := seedAccount(t, repo, "Old Wallet", core.KindAsset, "EUR")
	kept := seedAccount(t, repo, "Checking", core.KindAsset, "EUR")

	hanging := seedEntry(t, repo, &core.JournalEntry{
		Date:        date.MustParse("2025-02-01"),
		Description: "Cash found",
		Type:        core.TypeDeposit,
		Amount:      core.MustMoney("10", "EUR"),
		Legs: []core.TransactionLeg{
			{AccountID: doomed.ID, Amount: core.MustMoney("10", "EUR")},
		},
	})
	surviving := seedEntry(t, repo, &core.JournalEntry{
		Date:        date.MustParse("2025-02-02"),
		Description: "Salary",
		Type:        core.TypeDeposit,
		Amount:      core.MustMoney("1000", "EUR"),
		Legs: []core.TransactionLeg{
			{AccountID: kept.ID, Amount: core.MustMoney("1000", "EUR")},
		},
	})

	if err := repo.DeleteAccount(ctx, doomed.ID); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	n, err := repo.PurgeHangingEntries(ctx)
	if err != nil {
		t.Fatalf("PurgeHangingEntries() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeHangingEntries() = %d, want 1", n)
	}
	if _, err := repo.GetEntry(ctx, hanging.UUID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("hanging entry still present, error = %v", err)
	}
	if _, err := repo.GetEntry(ctx, surviving.UUID); err != nil {
		t.Errorf("surviving entry lost: %v", err)
	}

	// Idempotent.
	if n, err = repo.PurgeHangingEntries(ctx); err != nil || n != 0 {
		t.Errorf("second PurgeHangingEntries() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestSumLegs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := seedAccount(t, repo, "Checking", core.KindAsset, "EUR")

	deposits := []struct {
		day    string
		amount string
	}{
		{"2025-03-01", "100"},
		{"2025-03-15", "50.25"},
		{"2025-04-01", "10"},
	}
	for _, d := range deposits {
		seedEntry(t, repo, &core.JournalEntry{
			Date:        date.MustParse(d.day),
			Description: "deposit",
			Type:        core.TypeDeposit,
			Amount:      core.MustMoney(d.amount, "EUR"),
			Legs: []core.TransactionLeg{
				{AccountID: a.ID, Amount: core.MustMoney(d.amount, "EUR")},
			},
		})
	}
	seedEntry(t, repo, &core.JournalEntry{
		Date:        date.MustParse("2025-03-20"),
		Description: "withdrawal",
		Type:        core.TypeWithdrawal,
		Amount:      core.MustMoney("30.25", "EUR"),
		Legs: []core.TransactionLeg{
			{AccountID: a.ID, Amount: core.MustMoney("-30.25", "EUR")},
		},
	})

	tests := []struct {
		name  string
		until string
		want  string
	}{
		{"before any entry", "2025-02-28", "0"},
		{"on first entry date", "2025-03-01", "100"},
		{"mid month", "2025-03-16", "150.25"},
		{"after withdrawal", "2025-03-31", "120"},
		{"everything", "2025-12-31", "130"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.SumLegsUntil(ctx, a.ID, date.MustParse(tt.until))
			if err != nil {
				t.Fatalf("SumLegsUntil() error = %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("SumLegsUntil(%s) = %s, want %s", tt.until, got, tt.want)
			}
		})
	}

	march := date.Range{Start: date.MustParse("2025-03-01"), End: date.MustParse("2025-03-31")}
	in, err := repo.SumLegsInRange(ctx, a.ID, march, false)
	if err != nil {
		t.Fatalf("SumLegsInRange(in) error = %v", err)
	}
	if !in.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("march inflow = %s, want 150.25", in)
	}
	out, err := repo.SumLegsInRange(ctx, a.ID, march, true)
	if err != nil {
		t.Fatalf("SumLegsInRange(out) error = %v", err)
	}
	if !out.Equal(decimal.RequireFromString("-30.25")) {
		t.Errorf("march outflow = %s, want -30.25", out)
	}
}

func TestPeriodUniquePerStartDate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := &core.Budget{
		Name:        "Groceries",
		Active:      true,
		Amount:      core.MustMoney("200", "EUR"),
		Mode:        core.AutoBudgetFixed,
		Periodicity: date.Month,
	}
	if err := repo.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget() error = %v", err)
	}

	rng := date.Range{Start: date.MustParse("2025-03-01"), End: date.MustParse("2025-03-31")}
	first := &core.BudgetPeriod{BudgetID: b.ID, Range: rng, Amount: b.Amount}
	if err := repo.CreatePeriod(ctx, first); err != nil {
		t.Fatalf("CreatePeriod() error = %v", err)
	}

	dup := &core.BudgetPeriod{BudgetID: b.ID, Range: rng, Amount: b.Amount}
	if err := repo.CreatePeriod(ctx, dup); !core.IsConflict(err) {
		t.Fatalf("CreatePeriod(duplicate) error = %v, want ConflictError", err)
	}

	got, err := repo.PeriodForDate(ctx, b.ID, date.MustParse("2025-03-15"))
	if err != nil {
		t.Fatalf("PeriodForDate() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("PeriodForDate() id = %d, want %d", got.ID, first.ID)
	}

	if _, err := repo.PeriodForDate(ctx, b.ID, date.MustParse("2025-04-01")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("PeriodForDate(outside) error = %v, want ErrNotFound", err)
	}

	latest, err := repo.LatestPeriod(ctx, b.ID)
	if err != nil {
		t.Fatalf("LatestPeriod() error = %v", err)
	}
	if latest.ID != first.ID {
		t.Errorf("LatestPeriod() id = %d, want %d", latest.ID, first.ID)
	}
}

func TestPeriodUsed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	checking := seedAccount(t, repo, "Checking", core.KindAsset, "EUR")
	wallet := seedAccount(t, repo, "USD Wallet", core.KindAsset, "USD")

	b := &core.Budget{
		Name:        "Spending",
		Active:      true,
		Amount:      core.MustMoney("100", "EUR"),
		Mode:        core.AutoBudgetAdd,
		Periodicity: date.Week,
	}
	if err := repo.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget() error = %v", err)
	}
	period := &core.BudgetPeriod{
		BudgetID: b.ID,
		Range:    date.Range{Start: date.MustParse("2025-03-10"), End: date.MustParse("2025-03-16")},
		Amount:   b.Amount,
	}
	if err := repo.CreatePeriod(ctx, period); err != nil {
		t.Fatalf("CreatePeriod() error = %v", err)
	}

	// Counted: withdrawal source leg in the period currency.
	seedEntry(t, repo, &core.JournalEntry{
		Date:           date.MustParse("2025-03-11"),
		Description:    "Lunch",
		Type:           core.TypeWithdrawal,
		Amount:         core.MustMoney("12.50", "EUR"),
		BudgetPeriodID: &period.ID,
		Legs: []core.TransactionLeg{
			{AccountID: checking.ID, Amount: core.MustMoney("-12.50", "EUR")},
		},
	})
	// Counted: transfer out of the budget.
	seedEntry(t, repo, &core.JournalEntry{
		Date:           date.MustParse("2025-03-12"),
		Description:    "Move to savings",
		Type:           core.TypeTransfer,
		Amount:         core.MustMoney("7.50", "EUR"),
		BudgetPeriodID: &period.ID,
		Legs: []core.TransactionLeg{
			{AccountID: checking.ID, Amount: core.MustMoney("-7.50", "EUR")},
			{AccountID: wallet.ID, Amount: core.MustMoney("8.10", "USD")},
		},
	})
	// Not counted: deposit into the period.
	seedEntry(t, repo, &core.JournalEntry{
		Date:           date.MustParse("2025-03-13"),
		Description:    "Refund",
		Type:           core.TypeDeposit,
		Amount:         core.MustMoney("5", "EUR"),
		BudgetPeriodID: &period.ID,
		Legs: []core.TransactionLeg{
			{AccountID: checking.ID, Amount: core.MustMoney("5", "EUR")},
		},
	})
	// Not counted: withdrawal in another currency.
	seedEntry(t, repo, &core.JournalEntry{
		Date:           date.MustParse("2025-03-14"),
		Description:    "Foreign spend",
		Type:           core.TypeWithdrawal,
		Amount:         core.MustMoney("20", "USD"),
		BudgetPeriodID: &period.ID,
		Legs: []core.TransactionLeg{
			{AccountID: wallet.ID, Amount: core.MustMoney("-20", "USD")},
		},
	})

	used, err := repo.PeriodUsed(ctx, period.ID, "EUR")
	if err != nil {
		t.Fatalf("PeriodUsed() error = %v", err)
	}
	if !used.Equal(decimal.RequireFromString("20")) {
		t.Errorf("PeriodUsed() = %s, want 20", used)
	}
}

func TestUpdateEntryScalarsPreservesLegs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := seedAccount(t, repo, "Checking", core.KindAsset, "EUR")
	e := seedEntry(t, repo, &core.JournalEntry{
		Date:        date.MustParse("2025-03-10"),
		Description: "Coffee",
		Type:        core.TypeWithdrawal,
		Amount:      core.MustMoney("3", "EUR"),
		Legs: []core.TransactionLeg{
			{AccountID: a.ID, Amount: core.MustMoney("-3", "EUR"), Reconciled: true},
		},
	})
	legUUID := e.Legs[0].UUID

	e.Description = "Espresso"
	e.Date = date.MustParse("2025-03-11")
	e.Tags = []string{"cafe"}
	if err := repo.UpdateEntryScalars(ctx, e); err != nil {
		t.Fatalf("UpdateEntryScalars() error = %v", err)
	}

	got, err := repo.GetEntry(ctx, e.UUID)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got.Description != "Espresso" || got.Date.String() != "2025-03-11" {
		t.Errorf("scalars not updated: %q %s", got.Description, got.Date)
	}
	if len(got.Legs) != 1 || got.Legs[0].UUID != legUUID {
		t.Fatalf("leg identity changed: %+v", got.Legs)
	}
	if !got.Legs[0].Reconciled {
		t.Error("reconciled flag lost on scalar update")
	}
}

func TestEnsureCategoryIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.EnsureCategory(ctx, "Groceries")
	if err != nil {
		t.Fatalf("EnsureCategory() error = %v", err)
	}
	second, err := repo.EnsureCategory(ctx, "Groceries")
	if err != nil {
		t.Fatalf("EnsureCategory() second call error = %v", err)
	}
	if first != second {
		t.Errorf("EnsureCategory() returned %d then %d, want same id", first, second)
	}
}
