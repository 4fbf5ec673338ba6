package bank

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Store defines the data access facade consumed by the orchestrator. Every
// operation is scoped by a user ID. Both the embedded stores and the remote
// tool backend implement it with identical semantics.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error

	// Users
	GetUser(ctx context.Context, userID string) (*User, error)

	// Accounts
	GetAccounts(ctx context.Context, userID string) ([]Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (*Account, error)

	// Transactions
	GetRecentTransactions(ctx context.Context, userID, accountID string, limit int) ([]Transaction, error)
	AddTransaction(ctx context.Context, params TransactionParams) (*Transaction, error)

	// Payees
	FindPayeeByName(ctx context.Context, userID, name string) (*Payee, error)
	CreatePayee(ctx context.Context, userID, name, accountNumber, address string) (*Payee, error)

	// ProcessPayment atomically verifies funds, decrements the balance and
	// appends the debit transaction. The only multi-entity mutation.
	ProcessPayment(ctx context.Context, params PaymentParams) (*PaymentReceipt, error)
}

// Migrator is implemented by stores that own their schema.
type Migrator interface {
	RunMigrations(ctx context.Context, filesystem fs.FS) error
}

const (
	retryAttempts  = 5
	retryBaseDelay = 100 * time.Millisecond

	defaultTxLimit  = 10
	defaultMemo     = "Bill Payment"
	defaultCategory = "general"
	paymentCategory = "bill-payment"
)

// Backoff returns the delay preceding the given zero-based retry attempt.
// Pure so the policy is testable without a datastore.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return retryBaseDelay << uint(attempt)
}

// withRetry runs fn, retrying on ErrContention with exponential backoff over a
// fixed attempt budget. onRetry, when non-nil, observes each retry.
func withRetry(ctx context.Context, onRetry func(), fn func() error) error {
	var last error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrContention) {
			return err
		}
		last = err
		if onRetry != nil {
			onRetry()
		}
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt)):
		}
	}
	return fmt.Errorf("%w: retries exhausted: %v", ErrStoreUnavailable, last)
}
