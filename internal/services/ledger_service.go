package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"libretto/internal/amqp"
	"libretto/internal/core"
	"libretto/internal/date"
	"libretto/internal/rates"
	"libretto/internal/storage"
)

// LedgerService is the double-entry core. It validates and writes journal
// entries with balanced legs, answers account balance and period aggregate
// queries, and runs the hanging-entry consistency sweep.
type LedgerService struct {
	repo      *storage.SQLiteRepository
	converter rates.Converter
	clock     Clock
	events    EventPublisher
	prefs     core.UserPreferences
}

// NewLedgerService wires the ledger core. events may be nil when no broker
// is configured.
func NewLedgerService(repo *storage.SQLiteRepository, converter rates.Converter, clock Clock, events EventPublisher, prefs core.UserPreferences) *LedgerService {
	if clock == nil {
		clock = SystemClock()
	}
	return &LedgerService{
		repo:      repo,
		converter: converter,
		clock:     clock,
		events:    events,
		prefs:     prefs,
	}
}

// EntryParams carries the caller-resolved fields for creating or updating a
// journal entry. A zero Date means "today"; an empty Type is inferred from
// the accounts' kinds.
type EntryParams struct {
	Amount         core.Money
	Description    string
	Type           core.TransactionType
	Date           date.Date
	Category       string
	BudgetPeriodID *int64
	Tags           []string
	FromAccountID  *int64
	ToAccountID    *int64
}

// CreateAccountParams describes a new account, optionally with an opening
// balance entry dated at creation.
type CreateAccountParams struct {
	Name              string
	Kind              core.AccountKind
	Currency          string
	IncludeInNetWorth bool
	IBAN              string
	AccountNumber     string
	VirtualBalance    string
	OpeningBalance    *core.Money
}

// CreateAccount creates the account and, when an opening balance is given,
// its opening-balance entry.
func (s *LedgerService) CreateAccount(ctx context.Context, p CreateAccountParams) (*core.Account, error) {
	currency := p.Currency
	if currency == "" {
		currency = s.prefs.DefaultCurrency
	}

	account := &core.Account{
		Name:              p.Name,
		Kind:              p.Kind,
		Currency:          currency,
		Active:            true,
		IncludeInNetWorth: p.IncludeInNetWorth,
		IBAN:              p.IBAN,
		AccountNumber:     p.AccountNumber,
	}
	if p.VirtualBalance != "" {
		vb, err := core.NewMoney(p.VirtualBalance, currency)
		if err != nil {
			return nil, err
		}
		account.VirtualBalance = vb.Amount
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	if p.OpeningBalance != nil && !p.OpeningBalance.IsZero() {
		_, err := s.CreateEntry(ctx, EntryParams{
			Amount:      *p.OpeningBalance,
			Description: fmt.Sprintf("Opening balance for %s", account.Name),
			Type:        core.TypeOpeningBalance,
			Date:        date.FromTime(account.Created),
			ToAccountID: &account.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("create opening balance: %w", err)
		}
	}
	return account, nil
}

// DeleteAccount removes an account and its legs. Entries left hanging are
// cleaned by the periodic purge sweep.
func (s *LedgerService) DeleteAccount(ctx context.Context, accountID int64) error {
	return s.repo.DeleteAccount(ctx, accountID)
}

// CreateEntry validates and writes a journal entry with one leg per supplied
// side. Each leg carries the amount converted into its account's currency,
// frozen at creation. An opening-balance conflict (another writer won the
// per-account race) is recovered by retrying as an update of the existing
// opening entry.
func (s *LedgerService) CreateEntry(ctx context.Context, p EntryParams) (*core.JournalEntry, error) {
	entry, _, to, err := s.buildEntry(ctx, p, nil)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		if core.IsConflict(err) && entry.Type == core.TypeOpeningBalance && to != nil {
			return s.retryOpeningAsUpdate(ctx, p, to.ID)
		}
		return nil, err
	}

	publishEvent(ctx, s.events, amqp.NewEntryEvent(amqp.EventEntryCreated, entry.UUID))
	return entry, nil
}

// retryOpeningAsUpdate resolves a lost opening-balance race: the account
// already has an opening entry, so the caller's create becomes an update of
// that entry.
func (s *LedgerService) retryOpeningAsUpdate(ctx context.Context, p EntryParams, accountID int64) (*core.JournalEntry, error) {
	existing, err := s.repo.OpeningEntry(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve opening-balance conflict: %w", err)
	}
	slog.InfoContext(ctx, "Opening balance already exists, updating instead",
		"account_id", accountID, "entry_uuid", existing.UUID)
	if err := s.UpdateEntry(ctx, existing.UUID, p); err != nil {
		return nil, err
	}
	return s.repo.GetEntry(ctx, existing.UUID)
}

// UpdateEntry updates a journal entry. When amount, type or either account
// changed, the legs are deleted and recreated through the same validation as
// create; otherwise only scalar fields change and leg identity, including
// reconciled flags, is preserved.
func (s *LedgerService) UpdateEntry(ctx context.Context, id uuid.UUID, p EntryParams) error {
	existing, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return err
	}

	if p.Type == "" {
		p.Type = existing.Type
	}

	if s.legsChanged(existing, p) {
		entry, _, _, err := s.buildEntry(ctx, p, existing)
		if err != nil {
			return err
		}
		if err := s.repo.ReplaceEntry(ctx, entry); err != nil {
			return err
		}
	} else {
		entry := *existing
		if err := s.applyScalars(ctx, &entry, p); err != nil {
			return err
		}
		if err := s.repo.UpdateEntryScalars(ctx, &entry); err != nil {
			return err
		}
	}

	publishEvent(ctx, s.events, amqp.NewEntryEvent(amqp.EventEntryUpdated, id))
	return nil
}

// applyScalars copies the scalar fields of an update onto the entry,
// leaving legs untouched.
func (s *LedgerService) applyScalars(ctx context.Context, entry *core.JournalEntry, p EntryParams) error {
	if err := core.ValidateDescription(p.Description); err != nil {
		return err
	}
	if p.Date.IsZero() {
		p.Date = s.clock.Today()
	}
	entry.Date = p.Date
	entry.Description = p.Description
	entry.BudgetPeriodID = p.BudgetPeriodID
	entry.Tags = core.NormalizeTags(p.Tags)
	entry.CategoryID = nil
	if p.Category != "" {
		categoryID, err := s.repo.EnsureCategory(ctx, p.Category)
		if err != nil {
			return err
		}
		entry.CategoryID = &categoryID
	}
	return nil
}

// legsChanged reports whether the update requires recreating legs.
func (s *LedgerService) legsChanged(existing *core.JournalEntry, p EntryParams) bool {
	if !p.Amount.Equal(existing.Amount) || p.Type != existing.Type {
		return true
	}
	var curFrom, curTo *int64
	if leg := existing.SourceLeg(); leg != nil {
		curFrom = &leg.AccountID
	}
	if leg := existing.DestinationLeg(); leg != nil {
		curTo = &leg.AccountID
	}
	return !sameAccount(curFrom, p.FromAccountID) || !sameAccount(curTo, p.ToAccountID)
}

func sameAccount(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DeleteEntry deletes the entry and cascades to its legs.
func (s *LedgerService) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteEntry(ctx, id); err != nil {
		return err
	}
	publishEvent(ctx, s.events, amqp.NewEntryEvent(amqp.EventEntryDeleted, id))
	return nil
}

// GetEntry fetches a journal entry by external id.
func (s *LedgerService) GetEntry(ctx context.Context, id uuid.UUID) (*core.JournalEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// PurgeHangingEntries deletes journal entries with zero legs. Idempotent;
// intended to run from a scheduler.
func (s *LedgerService) PurgeHangingEntries(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeHangingEntries(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		publishEvent(ctx, s.events, amqp.NewEntriesPurgedEvent(n))
	}
	return n, nil
}

// buildEntry validates params and assembles an entry with its legs. When
// updating, existing carries the stored entry whose identity is kept.
func (s *LedgerService) buildEntry(ctx context.Context, p EntryParams, existing *core.JournalEntry) (*core.JournalEntry, *core.Account, *core.Account, error) {
	if err := core.ValidateDescription(p.Description); err != nil {
		return nil, nil, nil, err
	}
	if p.Amount.Currency == "" {
		p.Amount.Currency = s.prefs.DefaultCurrency
	}
	if err := core.ValidateCurrency(p.Amount.Currency); err != nil {
		return nil, nil, nil, err
	}
	if p.Date.IsZero() {
		p.Date = s.clock.Today()
	}

	var from, to *core.Account
	var err error
	if p.FromAccountID != nil {
		if from, err = s.repo.GetAccount(ctx, *p.FromAccountID); err != nil {
			return nil, nil, nil, fmt.Errorf("from account: %w", err)
		}
	}
	if p.ToAccountID != nil {
		if to, err = s.repo.GetAccount(ctx, *p.ToAccountID); err != nil {
			return nil, nil, nil, fmt.Errorf("to account: %w", err)
		}
	}

	if p.Type == "" {
		p.Type = core.ClassifyType(from, to)
	}
	if err := core.ValidateLegShape(p.Type, from, to); err != nil {
		return nil, nil, nil, err
	}

	entry := &core.JournalEntry{
		Date:           p.Date,
		Description:    p.Description,
		Type:           p.Type,
		Amount:         p.Amount.Abs(),
		BudgetPeriodID: p.BudgetPeriodID,
		Tags:           core.NormalizeTags(p.Tags),
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.UUID = existing.UUID
		entry.Created = existing.Created
	}

	if p.Category != "" {
		categoryID, err := s.repo.EnsureCategory(ctx, p.Category)
		if err != nil {
			return nil, nil, nil, err
		}
		entry.CategoryID = &categoryID
	}

	if from != nil {
		leg, err := s.buildLeg(ctx, entry, from, true)
		if err != nil {
			return nil, nil, nil, err
		}
		entry.Legs = append(entry.Legs, leg)
	}
	if to != nil {
		leg, err := s.buildLeg(ctx, entry, to, false)
		if err != nil {
			return nil, nil, nil, err
		}
		entry.Legs = append(entry.Legs, leg)
	}

	return entry, from, to, nil
}

// buildLeg converts the entry amount into the account's currency and freezes
// it into a signed leg. Source legs are negative.
func (s *LedgerService) buildLeg(ctx context.Context, entry *core.JournalEntry, account *core.Account, source bool) (core.TransactionLeg, error) {
	amount, err := s.converter.Convert(ctx, entry.Amount, account.Currency, entry.Date)
	if err != nil {
		return core.TransactionLeg{}, fmt.Errorf("convert leg amount: %w", err)
	}
	if amount.Currency != account.Currency {
		// A converter returning the wrong currency is a bug, not caller error.
		return core.TransactionLeg{}, &core.CurrencyMismatchError{Want: account.Currency, Got: amount.Currency}
	}
	if source {
		amount = amount.Neg()
	}
	return core.TransactionLeg{
		AccountID: account.ID,
		Amount:    amount,
		Opening:   !source && entry.Type == core.TypeOpeningBalance,
	}, nil
}

// PeriodTotals are an account's inflow, outflow and net over one calendar
// period. Out is negative; Net = In + Out.
type PeriodTotals struct {
	Range date.Range
	In    core.Money
	Out   core.Money
	Net   core.Money
}

// BalanceAsOf returns the account's balance on the given date: the sum of
// its legs dated on or before it, minus the account's virtual balance. A nil
// asOf means today. Zero when no legs exist.
func (s *LedgerService) BalanceAsOf(ctx context.Context, accountID int64, asOf *date.Date) (core.Money, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	until := s.clock.Today()
	if asOf != nil {
		until = *asOf
	}
	total, err := s.repo.SumLegsUntil(ctx, accountID, until)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Amount: total.Sub(account.VirtualBalance), Currency: account.Currency}, nil
}

// PeriodTotalsFor returns the account's in/out/net aggregates for the
// calendar period containing the anchor date.
func (s *LedgerService) PeriodTotalsFor(ctx context.Context, accountID int64, p date.Periodicity, anchor date.Date) (PeriodTotals, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return PeriodTotals{}, err
	}
	rng, err := date.Calculate(p, anchor)
	if err != nil {
		return PeriodTotals{}, err
	}

	in, err := s.repo.SumLegsInRange(ctx, accountID, rng, false)
	if err != nil {
		return PeriodTotals{}, err
	}
	out, err := s.repo.SumLegsInRange(ctx, accountID, rng, true)
	if err != nil {
		return PeriodTotals{}, err
	}

	return PeriodTotals{
		Range: rng,
		In:    core.Money{Amount: in, Currency: account.Currency},
		Out:   core.Money{Amount: out, Currency: account.Currency},
		Net:   core.Money{Amount: in.Add(out), Currency: account.Currency},
	}, nil
}

// StartingBalance returns the account's opening-balance amount, zero when no
// opening entry exists.
func (s *LedgerService) StartingBalance(ctx context.Context, accountID int64) (core.Money, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	entry, err := s.repo.OpeningEntry(ctx, accountID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Zero(account.Currency), nil
	}
	if err != nil {
		return core.Money{}, err
	}
	for _, leg := range entry.Legs {
		if leg.AccountID == accountID && leg.Opening {
			return leg.Amount, nil
		}
	}
	return core.Zero(account.Currency), nil
}

// NetWorth sums the balances of active, owned accounts flagged for net
// worth, converted into the requested currency.
func (s *LedgerService) NetWorth(ctx context.Context, currency string, asOf *date.Date) (core.Money, error) {
	if currency == "" {
		currency = s.prefs.DefaultCurrency
	}
	if err := core.ValidateCurrency(currency); err != nil {
		return core.Money{}, err
	}

	accounts, err := s.repo.ListAccounts(ctx, true)
	if err != nil {
		return core.Money{}, err
	}
	until := s.clock.Today()
	if asOf != nil {
		until = *asOf
	}

	total := core.Zero(currency)
	for _, account := range accounts {
		if !account.IncludeInNetWorth || !account.Kind.Owned() {
			continue
		}
		balance, err := s.BalanceAsOf(ctx, account.ID, &until)
		if err != nil {
			return core.Money{}, err
		}
		converted, err := s.converter.Convert(ctx, balance, currency, until)
		if err != nil {
			return core.Money{}, fmt.Errorf("convert %s balance: %w", account.Slug, err)
		}
		if total, err = total.Add(converted); err != nil {
			return core.Money{}, err
		}
	}
	return total, nil
}
