package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Drink struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Name       string          `json:"name"`
	Category   string          `json:"category,omitempty"`
	VolumeML   float64         `json:"volumeMl"`
	ABV        float64         `json:"abv"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency,omitempty"`
	ConsumedAt time.Time       `json:"consumedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (d Drink) EntityID() string    { return d.ID }
func (d Drink) Modified() time.Time { return d.UpdatedAt }

func (d Drink) Owner() string              { return d.UserID }
func (d Drink) WithID(id string) Drink     { d.ID = id; return d }
func (d Drink) Touched(at time.Time) Drink { d.UpdatedAt = at; return d }

func (d Drink) Validate() error {
	if err := requireIDs(KindDrinks, d.ID, d.UserID); err != nil {
		return err
	}
	if d.Name == "" {
		return invalid(KindDrinks, "missing name")
	}
	if d.VolumeML <= 0 {
		return invalid(KindDrinks, "volume must be positive")
	}
	if d.ABV < 0 || d.ABV > 100 {
		return invalid(KindDrinks, "abv %.1f out of range", d.ABV)
	}
	return checkMoney(KindDrinks, "price", d.Price, d.Currency)
}

// Budget is a user's spending budget for the current period. It is stored and
// synced as one aggregate together with its expenses.
type Budget struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Currency     string          `json:"currency"`
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
	PeriodStart  time.Time       `json:"periodStart"`
	Expenses     []Expense       `json:"expenses"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type Expense struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	DrinkID     string          `json:"drinkId,omitempty"`
	SpentAt     time.Time       `json:"spentAt"`
}

func (b Budget) EntityID() string    { return b.ID }
func (b Budget) Modified() time.Time { return b.UpdatedAt }

func (b Budget) Owner() string               { return b.UserID }
func (b Budget) WithID(id string) Budget     { b.ID = id; return b }
func (b Budget) Touched(at time.Time) Budget { b.UpdatedAt = at; return b }

func (b Budget) Validate() error {
	if err := requireIDs(KindBudget, b.ID, b.UserID); err != nil {
		return err
	}
	if !ValidCurrency(b.Currency) {
		return invalid(KindBudget, "unknown currency %q", b.Currency)
	}
	if b.MonthlyLimit.IsNegative() {
		return invalid(KindBudget, "monthly limit is negative")
	}
	seen := make(map[string]struct{}, len(b.Expenses))
	for _, e := range b.Expenses {
		if e.ID == "" {
			return invalid(KindBudget, "expense without id")
		}
		if e.Amount.IsNegative() {
			return invalid(KindBudget, "expense %s has a negative amount", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return invalid(KindBudget, "duplicate expense %s", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

func (b Budget) Spent() decimal.Decimal {
	total := decimal.Zero
	for _, e := range b.Expenses {
		total = total.Add(e.Amount)
	}
	return total
}

// Remaining may be negative when the limit is exceeded.
func (b Budget) Remaining() decimal.Decimal { return b.MonthlyLimit.Sub(b.Spent()) }

// ExpenseIndex returns the position of the expense with id, or -1.
func (b Budget) ExpenseIndex(id string) int {
	for i, e := range b.Expenses {
		if e.ID == id {
			return i
		}
	}
	return -1
}

type UserProfile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	BirthYear   int       `json:"birthYear,omitempty"`
	WeightKG    float64   `json:"weightKg,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p UserProfile) EntityID() string    { return p.ID }
func (p UserProfile) Modified() time.Time { return p.UpdatedAt }

func (p UserProfile) Owner() string                    { return p.UserID }
func (p UserProfile) WithID(id string) UserProfile     { p.ID = id; return p }
func (p UserProfile) Touched(at time.Time) UserProfile { p.UpdatedAt = at; return p }

func (p UserProfile) Validate() error {
	if err := requireIDs(KindProfile, p.ID, p.UserID); err != nil {
		return err
	}
	if p.BirthYear != 0 && (p.BirthYear < 1900 || p.BirthYear > time.Now().Year()) {
		return invalid(KindProfile, "birth year %d out of range", p.BirthYear)
	}
	if p.WeightKG < 0 {
		return invalid(KindProfile, "weight is negative")
	}
	return nil
}

const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
)

type UserSettings struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Units            string    `json:"units"`
	Currency         string    `json:"currency,omitempty"`
	WeeklyDrinkLimit int       `json:"weeklyDrinkLimit,omitempty"`
	Notifications    bool      `json:"notifications"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (s UserSettings) EntityID() string    { return s.ID }
func (s UserSettings) Modified() time.Time { return s.UpdatedAt }

func (s UserSettings) Owner() string                     { return s.UserID }
func (s UserSettings) WithID(id string) UserSettings     { s.ID = id; return s }
func (s UserSettings) Touched(at time.Time) UserSettings { s.UpdatedAt = at; return s }

func (s UserSettings) Validate() error {
	if err := requireIDs(KindSettings, s.ID, s.UserID); err != nil {
		return err
	}
	if s.Units != "" && s.Units != UnitsMetric && s.Units != UnitsImperial {
		return invalid(KindSettings, "unknown units %q", s.Units)
	}
	if s.Currency != "" && !ValidCurrency(s.Currency) {
		return invalid(KindSettings, "unknown currency %q", s.Currency)
	}
	if s.WeeklyDrinkLimit < 0 {
		return invalid(KindSettings, "weekly drink limit is negative")
	}
	return nil
}

type PreGamePlan struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Title     string          `json:"title"`
	EventAt   time.Time       `json:"eventAt"`
	MaxDrinks int             `json:"maxDrinks"`
	Budget    decimal.Decimal `json:"budget"`
	Currency  string          `json:"currency,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (p PreGamePlan) EntityID() string    { return p.ID }
func (p PreGamePlan) Modified() time.Time { return p.UpdatedAt }

func (p PreGamePlan) Owner() string                    { return p.UserID }
func (p PreGamePlan) WithID(id string) PreGamePlan     { p.ID = id; return p }
func (p PreGamePlan) Touched(at time.Time) PreGamePlan { p.UpdatedAt = at; return p }

func (p PreGamePlan) Validate() error {
	if err := requireIDs(KindPlans, p.ID, p.UserID); err != nil {
		return err
	}
	if p.Title == "" {
		return invalid(KindPlans, "missing title")
	}
	if p.MaxDrinks < 0 {
		return invalid(KindPlans, "max drinks is negative")
	}
	return checkMoney(KindPlans, "budget", p.Budget, p.Currency)
}

type ReadinessAssessment struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	Score          int            `json:"score"`
	Answers        map[string]int `json:"answers,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
	TakenAt        time.Time      `json:"takenAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (a ReadinessAssessment) EntityID() string    { return a.ID }
func (a ReadinessAssessment) Modified() time.Time { return a.UpdatedAt }

func (a ReadinessAssessment) Owner() string                            { return a.UserID }
func (a ReadinessAssessment) WithID(id string) ReadinessAssessment     { a.ID = id; return a }
func (a ReadinessAssessment) Touched(at time.Time) ReadinessAssessment { a.UpdatedAt = at; return a }

func (a ReadinessAssessment) Validate() error {
	if err := requireIDs(KindAssessment, a.ID, a.UserID); err != nil {
		return err
	}
	if a.Score < 0 || a.Score > 100 {
		return invalid(KindAssessment, "score %d out of range", a.Score)
	}
	return nil
}

// AuthToken is the session credential. It is encrypted at rest and never synced.
type AuthToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (t AuthToken) Validate() error {
	if t.AccessToken == "" {
		return invalid(KindAuthToken, "missing access token")
	}
	return nil
}

func (t AuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}
