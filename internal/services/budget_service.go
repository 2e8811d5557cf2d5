package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"libretto/internal/amqp"
	"libretto/internal/core"
	"libretto/internal/date"
	"libretto/internal/storage"
)

// BudgetService manages budgets and their period chains. Auto-budgeting
// periods are rolled forward by Tick, which the rollover worker calls on a
// schedule; every operation here is safe to repeat.
type BudgetService struct {
	repo   *storage.SQLiteRepository
	clock  Clock
	events EventPublisher
}

// NewBudgetService wires the budget state machine. events may be nil.
func NewBudgetService(repo *storage.SQLiteRepository, clock Clock, events EventPublisher) *BudgetService {
	if clock == nil {
		clock = SystemClock()
	}
	return &BudgetService{repo: repo, clock: clock, events: events}
}

// PeriodReport is a period with its derived spending figures. Available can
// be negative when the period is overspent.
type PeriodReport struct {
	Period    core.BudgetPeriod
	Used      core.Money
	Available core.Money
}

// TickResult reports what one rollover pass did to a budget.
type TickResult struct {
	Closed  *core.BudgetPeriod
	Created *core.BudgetPeriod
}

// CreateBudget validates and stores the budget. Auto-budgeting budgets get
// their first period immediately, covering the calendar window containing
// today, funded with the budget amount.
func (s *BudgetService) CreateBudget(ctx context.Context, b *core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.repo.CreateBudget(ctx, b); err != nil {
		return err
	}
	if !b.AutoBudgeting() {
		return nil
	}

	rng, err := date.Calculate(b.Periodicity, s.clock.Today())
	if err != nil {
		return err
	}
	period := &core.BudgetPeriod{
		BudgetID: b.ID,
		Range:    rng,
		Amount:   b.Amount,
	}
	if err := s.repo.CreatePeriod(ctx, period); err != nil {
		return fmt.Errorf("create first period: %w", err)
	}
	slog.InfoContext(ctx, "Budget created with first period",
		"budget_id", b.ID, "start", rng.Start.String(), "end", rng.End.String())
	return nil
}

// UpdateBudget applies the changes and reconciles the current period with
// the new settings. When the current period still matches the calendar
// window for today, Fixed mode overwrites its amount and Add mode shifts it
// by the amount delta so carried-over funds survive. A periodicity change
// closes the current period at yesterday and opens a fresh one.
func (s *BudgetService) UpdateBudget(ctx context.Context, b *core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	prev, err := s.repo.GetBudget(ctx, b.ID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateBudget(ctx, b); err != nil {
		return err
	}
	if !b.AutoBudgeting() || !b.Active {
		return nil
	}

	today := s.clock.Today()
	fresh, err := date.Calculate(b.Periodicity, today)
	if err != nil {
		return err
	}

	current, err := s.repo.PeriodForDate(ctx, b.ID, today)
	if errors.Is(err, core.ErrNotFound) {
		_, err := s.openPeriod(ctx, b, fresh, b.Amount)
		return err
	}
	if err != nil {
		return err
	}

	// Same window start: reshape the current period in place. Closing and
	// reopening here would either invert the closed range or collide with
	// the (budget_id, start_date) uniqueness when a periodicity change lands
	// on the first day of the new window.
	if current.Range.Start == fresh.Start {
		current.Range = fresh
		switch b.Mode {
		case core.AutoBudgetFixed:
			current.Amount = b.Amount
		case core.AutoBudgetAdd:
			delta, err := b.Amount.Sub(prev.Amount)
			if err != nil {
				return err
			}
			if current.Amount, err = current.Amount.Add(delta); err != nil {
				return err
			}
		}
		return s.repo.UpdatePeriod(ctx, current)
	}

	// Periodicity changed mid-window; truncate the stale period and reopen.
	if err := s.closePeriod(ctx, current, today); err != nil {
		return err
	}
	_, err = s.openPeriod(ctx, b, fresh, b.Amount)
	return err
}

// Tick advances one budget's period chain to the window containing today.
// It is idempotent: when the current period already covers today, or another
// ticker created the fresh period first, nothing changes. In Add mode the
// previous period's leftover is carried into the new amount.
func (s *BudgetService) Tick(ctx context.Context, budgetID int64) (TickResult, error) {
	b, err := s.repo.GetBudget(ctx, budgetID)
	if err != nil {
		return TickResult{}, err
	}
	if !b.Active || !b.AutoBudgeting() {
		return TickResult{}, nil
	}

	today := s.clock.Today()
	fresh, err := date.Calculate(b.Periodicity, today)
	if err != nil {
		return TickResult{}, err
	}

	var result TickResult
	current, err := s.repo.PeriodForDate(ctx, b.ID, today)
	switch {
	case err == nil:
		if current.Range == fresh {
			return TickResult{}, nil
		}
		// Same window start, different extent: a periodicity change landed
		// on the window's first day. Reshape in place; close+create would
		// invert the closed range and collide on the start date.
		if current.Range.Start == fresh.Start {
			current.Range = fresh
			if err := s.repo.UpdatePeriod(ctx, current); err != nil {
				return TickResult{}, err
			}
			return TickResult{}, nil
		}
		// Stale window, usually after a periodicity change.
		if err := s.closePeriod(ctx, current, today); err != nil {
			return TickResult{}, err
		}
		result.Closed = current
	case errors.Is(err, core.ErrNotFound):
		// No period covers today; the latest one ended in the past.
	default:
		return TickResult{}, err
	}

	amount := b.Amount
	if b.Mode == core.AutoBudgetAdd {
		prev := current
		if prev == nil {
			if prev, err = s.repo.LatestPeriod(ctx, b.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
				return TickResult{}, err
			}
		}
		if prev != nil {
			available, err := s.periodAvailable(ctx, prev)
			if err != nil {
				return TickResult{}, err
			}
			if amount, err = b.Amount.Add(available); err != nil {
				return TickResult{}, err
			}
		}
	}

	created, err := s.openPeriod(ctx, b, fresh, amount)
	if err != nil {
		if core.IsConflict(err) {
			// Another ticker rolled this budget first.
			existing, lookupErr := s.repo.PeriodForDate(ctx, b.ID, fresh.Start)
			if lookupErr != nil {
				return TickResult{}, lookupErr
			}
			slog.InfoContext(ctx, "Period already rolled", "budget_id", b.ID, "period_id", existing.ID)
			return TickResult{Created: existing}, nil
		}
		return TickResult{}, err
	}
	result.Created = created

	publishEvent(ctx, s.events, amqp.NewPeriodRolledEvent(b.ID, created.ID))
	slog.InfoContext(ctx, "Budget period rolled",
		"budget_id", b.ID,
		"period_id", created.ID,
		"start", fresh.Start.String(),
		"end", fresh.End.String(),
		"amount", created.Amount.String())
	return result, nil
}

// TickAll rolls every active auto-budgeting budget forward. A failing budget
// is logged and skipped so one bad row cannot stall the rest.
func (s *BudgetService) TickAll(ctx context.Context) (int, error) {
	budgets, err := s.repo.ListActiveAutoBudgets(ctx)
	if err != nil {
		return 0, err
	}

	rolled := 0
	for _, b := range budgets {
		result, err := s.Tick(ctx, b.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to roll budget period", "budget_id", b.ID, "error", err)
			continue
		}
		if result.Created != nil {
			rolled++
		}
	}
	return rolled, nil
}

// PeriodForDate returns the period containing d, or nil when the budget has
// no period there.
func (s *BudgetService) PeriodForDate(ctx context.Context, budgetID int64, d date.Date) (*core.BudgetPeriod, error) {
	p, err := s.repo.PeriodForDate(ctx, budgetID, d)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// PeriodReport derives the period's spent and remaining amounts from its
// linked journal entries.
func (s *BudgetService) PeriodReport(ctx context.Context, periodID int64) (PeriodReport, error) {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return PeriodReport{}, err
	}
	used, err := s.periodUsed(ctx, period)
	if err != nil {
		return PeriodReport{}, err
	}
	available, err := period.Amount.Sub(used)
	if err != nil {
		return PeriodReport{}, err
	}
	return PeriodReport{Period: *period, Used: used, Available: available}, nil
}

// periodUsed is the positive spend magnitude in the period's currency.
func (s *BudgetService) periodUsed(ctx context.Context, p *core.BudgetPeriod) (core.Money, error) {
	used, err := s.repo.PeriodUsed(ctx, p.ID, p.Amount.Currency)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Amount: used, Currency: p.Amount.Currency}, nil
}

func (s *BudgetService) periodAvailable(ctx context.Context, p *core.BudgetPeriod) (core.Money, error) {
	used, err := s.periodUsed(ctx, p)
	if err != nil {
		return core.Money{}, err
	}
	return p.Amount.Sub(used)
}

// closePeriod truncates a stale period so it ends the day before today. The
// period must have started before today; an inverted range never gets stored.
func (s *BudgetService) closePeriod(ctx context.Context, p *core.BudgetPeriod, today date.Date) error {
	end := today.AddDays(-1)
	if end.Before(p.Range.Start) {
		return fmt.Errorf("close period %d: end %s would precede start %s", p.ID, end, p.Range.Start)
	}
	p.Range.End = end
	if err := s.repo.UpdatePeriod(ctx, p); err != nil {
		return fmt.Errorf("close period %d: %w", p.ID, err)
	}
	return nil
}

func (s *BudgetService) openPeriod(ctx context.Context, b *core.Budget, rng date.Range, amount core.Money) (*core.BudgetPeriod, error) {
	period := &core.BudgetPeriod{
		BudgetID: b.ID,
		Range:    rng,
		Amount:   amount,
	}
	if err := s.repo.CreatePeriod(ctx, period); err != nil {
		return nil, err
	}
	return period, nil
}
