package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a ledger entry documents are matched against. Transactions
// are owned by a user and are read-only from the pipeline's perspective.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        time.Time       `json:"date"`
	CreatedAt   time.Time       `json:"createdAt"`
}
