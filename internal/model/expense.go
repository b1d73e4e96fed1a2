package model

import "time"

// Expense mirrors the expenses table. UserID is the owning user and is not
// part of the API representation.
type Expense struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"-"`
	Title     string    `json:"title"`
	Amount    Cents     `json:"amount"`
	Category  string    `json:"category"`
	SpentAt   time.Time `json:"spent_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpenseFilter narrows ListByOwner and SummaryByOwner. From is inclusive and
// To exclusive; zero values leave that side open.
type ExpenseFilter struct {
	From     time.Time
	To       time.Time
	Category string
	Limit    int
	Offset   int
}

// CategoryTotal is one row of a per-category summary.
type CategoryTotal struct {
	Category string `json:"category"`
	Total    Cents  `json:"total"`
	Count    int64  `json:"count"`
}

// Summary aggregates a user's expenses by category.
type Summary struct {
	Categories []CategoryTotal `json:"categories"`
	Total      Cents           `json:"total"`
	Count      int64           `json:"count"`
}
