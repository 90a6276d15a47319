package repo

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/tabkeep/entity"
)

// Budgets stores one budget per user. Expenses live inside the budget and are
// synced with it as a whole.
type Budgets struct {
	*Singleton[entity.Budget]
}

// AddExpense appends e to the user's budget and returns it with its id and
// date filled in.
func (b *Budgets) AddExpense(ctx context.Context, userID string, e entity.Expense) (entity.Expense, error) {
	if e.ID == "" {
		e.ID = entity.NewID()
	}
	if e.SpentAt.IsZero() {
		e.SpentAt = b.now()
	}
	err := b.mutate(ctx, userID, "add_expense", func(cur entity.Budget) (entity.Budget, error) {
		if cur.ExpenseIndex(e.ID) >= 0 {
			return cur, &DuplicateError{Kind: "expense", ID: e.ID, ExistingID: e.ID}
		}
		cur.Expenses = append(append([]entity.Expense(nil), cur.Expenses...), e)
		return cur, nil
	})
	return e, err
}

func (b *Budgets) UpdateExpense(ctx context.Context, userID string, e entity.Expense) error {
	return b.mutate(ctx, userID, "update_expense", func(cur entity.Budget) (entity.Budget, error) {
		i := cur.ExpenseIndex(e.ID)
		if i < 0 {
			return cur, fmt.Errorf("%w: expense %s", ErrNotFound, e.ID)
		}
		if e.SpentAt.IsZero() {
			e.SpentAt = cur.Expenses[i].SpentAt
		}
		cur.Expenses = append([]entity.Expense(nil), cur.Expenses...)
		cur.Expenses[i] = e
		return cur, nil
	})
}

func (b *Budgets) RemoveExpense(ctx context.Context, userID, expenseID string) error {
	return b.mutate(ctx, userID, "remove_expense", func(cur entity.Budget) (entity.Budget, error) {
		i := cur.ExpenseIndex(expenseID)
		if i < 0 {
			return cur, fmt.Errorf("%w: expense %s", ErrNotFound, expenseID)
		}
		out := make([]entity.Expense, 0, len(cur.Expenses)-1)
		out = append(out, cur.Expenses[:i]...)
		cur.Expenses = append(out, cur.Expenses[i+1:]...)
		return cur, nil
	})
}

// mutate edits the stored budget and pushes the whole aggregate.
func (b *Budgets) mutate(ctx context.Context, userID, op string, fn func(entity.Budget) (entity.Budget, error)) error {
	var next entity.Budget
	err := b.view.Update(ctx, entity.Key(b.kind, userID), func(cur entity.Budget, ok bool) (entity.Budget, error) {
		if !ok {
			return cur, fmt.Errorf("%w: %s for %s", ErrNotFound, b.kind, userID)
		}
		v, err := fn(cur)
		if err != nil {
			return cur, err
		}
		next = v.Touched(b.now())
		return next, nil
	})
	if err != nil {
		return err
	}
	if b.remote != nil {
		b.push(ctx, b.kind, op, next.ID, func(ctx context.Context) error {
			return b.remote.Update(ctx, userID, next)
		})
	}
	return nil
}
