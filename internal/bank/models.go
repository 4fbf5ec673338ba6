package bank

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents the users table row. Immutable after creation.
type User struct {
	ID        string
	Name      string
	Email     *string
	CreatedAt time.Time
}

// Account represents a single account owned by a user. AccountID is the
// customer-facing identifier (e.g. CHK-001); ID is the storage key.
type Account struct {
	ID          string
	UserID      string
	AccountID   string
	AccountType string
	Currency    string
	Balance     decimal.Decimal
}

// Transaction is an immutable ledger entry. Debits carry a negative amount,
// credits a positive one.
type Transaction struct {
	ID          string
	UserID      string
	AccountID   string
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Merchant    *string
	Category    string
}

// Payee is a registered payment recipient. Names are not unique within a
// user's scope; lookups return the first match.
type Payee struct {
	ID            string
	UserID        string
	Name          string
	AccountNumber string
	Address       string
}

// TransactionParams carries data used to append a ledger entry.
type TransactionParams struct {
	UserID      string
	AccountID   string
	Amount      decimal.Decimal
	Description string
	Merchant    string
	Category    string
}

// PaymentParams carries data for a compound payment operation.
type PaymentParams struct {
	UserID        string
	FromAccountID string
	PayeeName     string
	Amount        decimal.Decimal
	Memo          string
}

// PaymentReceipt is the committed outcome of a successful payment.
type PaymentReceipt struct {
	NewBalance  decimal.Decimal
	Transaction Transaction
}
